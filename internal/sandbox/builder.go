package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/requirement"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// EnvironmentRepository — персистентное состояние окружений.
// Get возвращает (nil, nil), если окружения для workload нет.
type EnvironmentRepository interface {
	Get(ctx context.Context, workloadID string) (*domain.EnvironmentRecord, error)
	Upsert(ctx context.Context, rec *domain.EnvironmentRecord) error
	Delete(ctx context.Context, workloadID string) error
}

// EnvironmentBuilder собирает изолированные окружения и переиспользует их
// по хэшу нормализованного набора пакетов. Конкурентные install-запросы
// одного workload схлопываются в одну сборку (singleflight).
type EnvironmentBuilder struct {
	runtime Runtime
	repo    EnvironmentRepository
	group   singleflight.Group
	logger  *zap.Logger

	baseImage    string
	buildTimeout time.Duration
}

func NewEnvironmentBuilder(runtime Runtime, repo EnvironmentRepository, baseImage string, buildTimeout time.Duration, logger *zap.Logger) *EnvironmentBuilder {
	return &EnvironmentBuilder{
		runtime:      runtime,
		repo:         repo,
		logger:       logger.Named("builder"),
		baseImage:    baseImage,
		buildTimeout: buildTimeout,
	}
}

// PackageSetHash — детерминированный отпечаток набора пакетов.
// Нормализация убирает чувствительность к порядку и регистру: один и тот же
// набор всегда дает один и тот же хэш, значит — один и тот же образ.
func PackageSetHash(reqs []requirement.Requirement) string {
	canonical := requirement.Normalize(reqs)
	h := sha256.Sum256([]byte(strings.Join(canonical, "\n")))
	return hex.EncodeToString(h[:])
}

func imageTag(workloadID, hash string) string {
	return fmt.Sprintf("sentinel/%s:%s", workloadID, hash[:12])
}

type buildOutcome struct {
	record *domain.EnvironmentRecord
	reused bool
}

// EnsureEnvironment приводит окружение workload к заданному набору пакетов.
// Совпал хэш с персистентной записью — пересборки нет, reused=true.
// Изменился набор — собирается новый образ, запись перезаписывается,
// вытесненный тег снимается сразу (best-effort): на запись больше никто
// не ссылается, и cleanup до него уже не доберется.
func (b *EnvironmentBuilder) EnsureEnvironment(ctx context.Context, workloadID string, reqs []requirement.Requirement) (*domain.EnvironmentRecord, bool, error) {
	hash := PackageSetHash(reqs)

	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		v, err, _ := b.group.Do(workloadID, func() (interface{}, error) {
			return b.ensureLocked(ctx, workloadID, hash, reqs)
		})
		if err != nil {
			return nil, false, err
		}
		out := v.(buildOutcome)

		// Flight мог выиграть конкурент с ДРУГИМ набором пакетов — его
		// результат нам не подходит, заходим на новый flight со своим хэшем
		if out.record.PackageSetHash != hash {
			continue
		}
		return out.record, out.reused, nil
	}
}

// ensureLocked — тело flight'а: на один workload исполняется не более
// одного экземпляра одновременно.
func (b *EnvironmentBuilder) ensureLocked(ctx context.Context, workloadID, hash string, reqs []requirement.Requirement) (interface{}, error) {
	existing, err := b.repo.Get(ctx, workloadID)
	if err != nil {
		return nil, fmt.Errorf("load environment record: %w", err)
	}
	if existing != nil && existing.PackageSetHash == hash {
		b.logger.Debug("environment reused",
			zap.String("workload_id", workloadID),
			zap.String("image_tag", existing.ImageTag))
		return buildOutcome{record: existing, reused: true}, nil
	}

	tag := imageTag(workloadID, hash)
	if err := b.buildImage(ctx, tag, reqs); err != nil {
		return nil, err
	}

	rec := &domain.EnvironmentRecord{
		WorkloadID:     workloadID,
		ImageTag:       tag,
		PackageSetHash: hash,
		Packages:       requirement.Normalize(reqs),
		BuiltAt:        time.Now().UTC(),
	}
	if err := b.repo.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist environment record: %w", err)
	}

	if existing != nil && existing.ImageTag != tag {
		// Запись уже указывает на новый образ; провал удаления старого —
		// не повод ронять установку
		if err := b.runtime.RemoveImage(ctx, existing.ImageTag); err != nil {
			b.logger.Warn("superseded image not removed",
				zap.String("workload_id", workloadID),
				zap.String("image_tag", existing.ImageTag),
				zap.Error(err))
		}
	}

	b.logger.Info("environment built",
		zap.String("workload_id", workloadID),
		zap.String("image_tag", tag),
		zap.Int("packages", len(rec.Packages)))
	return buildOutcome{record: rec, reused: false}, nil
}

// buildImage готовит контекст сборки во временной директории и собирает образ.
func (b *EnvironmentBuilder) buildImage(ctx context.Context, tag string, reqs []requirement.Requirement) error {
	dir, err := os.MkdirTemp("", "sentinel-build-*")
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer os.RemoveAll(dir)

	reqLines := requirement.Normalize(reqs)
	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte(strings.Join(reqLines, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("write requirements: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(b.renderDockerfile()), 0o644); err != nil {
		return fmt.Errorf("write dockerfile: %w", err)
	}

	return b.runtime.BuildImage(ctx, tag, dir, b.buildTimeout)
}

// renderDockerfile — фиксированный шаблон окружения. Пакеты ставятся в
// отдельный каталог, процесс воркло́ада идет от непривилегированного
// пользователя; корневая ФС на запуске все равно read-only.
func (b *EnvironmentBuilder) renderDockerfile() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "FROM %s\n", b.baseImage)
	sb.WriteString("COPY requirements.txt /tmp/requirements.txt\n")
	sb.WriteString("RUN pip install --no-cache-dir --target /opt/sentinel/site -r /tmp/requirements.txt\n")
	sb.WriteString("RUN useradd --uid 10001 --no-create-home --shell /usr/sbin/nologin sandbox\n")
	sb.WriteString("ENV PYTHONPATH=/opt/sentinel/site\n")
	sb.WriteString("WORKDIR /workspace\n")
	sb.WriteString("USER sandbox\n")
	return sb.String()
}

// CleanupEnvironment снимает образ и запись. Идемпотентна: отсутствие
// окружения — тоже успех.
func (b *EnvironmentBuilder) CleanupEnvironment(ctx context.Context, workloadID string) error {
	rec, err := b.repo.Get(ctx, workloadID)
	if err != nil {
		return fmt.Errorf("load environment record: %w", err)
	}
	if rec == nil {
		return nil
	}

	if err := b.runtime.RemoveImage(ctx, rec.ImageTag); err != nil {
		// Запись не удаляем: оператор увидит окружение и повторит cleanup
		return fmt.Errorf("remove image %s: %w", rec.ImageTag, err)
	}
	if err := b.repo.Delete(ctx, workloadID); err != nil {
		return fmt.Errorf("delete environment record: %w", err)
	}

	b.logger.Info("environment removed",
		zap.String("workload_id", workloadID),
		zap.String("image_tag", rec.ImageTag))
	return nil
}

// Status — текущее состояние окружения workload.
func (b *EnvironmentBuilder) Status(ctx context.Context, workloadID string) (*domain.EnvironmentStatus, error) {
	rec, err := b.repo.Get(ctx, workloadID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &domain.EnvironmentStatus{Exists: false}, nil
	}
	builtAt := rec.BuiltAt
	return &domain.EnvironmentStatus{
		Exists:   true,
		ImageTag: rec.ImageTag,
		BuiltAt:  &builtAt,
	}, nil
}
