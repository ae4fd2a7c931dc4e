package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/console/handler"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в RegistryService
	validator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler    *handler.AuthHandler    // /auth/token
	packageHandler *handler.PackageHandler // /v1/packages (реестр)
	agentHandler   *handler.AgentHandler   // /v1/agents (зрелость)
	auditHandler   *handler.AuditHandler   // /v1/audit (журнал)
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	packageH *handler.PackageHandler,
	agentH *handler.AgentHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:         chi.NewRouter(),
		logger:         logger.Named("console-api"),
		cfg:            cfg,
		validator:      validator,
		authHandler:    authH,
		packageHandler: packageH,
		agentHandler:   agentH,
		auditHandler:   auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.validator, s.logger))

		// Реестр пакетов (Governance)
		r.Route("/v1/packages", func(r chi.Router) {
			r.Get("/", s.packageHandler.List)       // Реестр с фильтром по статусу
			r.Post("/", s.packageHandler.Request)   // Заявка на пакет (pending)
			r.Post("/approve", s.packageHandler.Approve)
			r.Post("/ban", s.packageHandler.Ban)
			r.Post("/lift-ban", s.packageHandler.LiftBan)
		})

		// Реестр агентов (уровни зрелости)
		r.Route("/v1/agents", func(r chi.Router) {
			r.Get("/", s.agentHandler.List)
			r.Post("/", s.agentHandler.Register)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.agentHandler.Get)
				r.Post("/maturity", s.agentHandler.SetMaturity)
			})
		})

		// Аудит и Логи (Observability)
		r.Get("/v1/audit", s.auditHandler.GetLogs)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
