package governance

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/infra"
	"go.uber.org/zap"
)

// StartInvalidationListener — «живучая» подписка на сигналы мутаций,
// выполненных другими инстансами. Свои мутации сбрасывают кэш синхронно
// в afterMutation; этот цикл закрывает межинстансную когерентность.
// Цикл переподключается при любых сбоях и завершается только по ctx.
func (s *Service) StartInvalidationListener(ctx context.Context, rdb *redis.Client) {
	logger := s.logger.Named("invalidation-listener")

	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := rdb.Subscribe(ctx, infra.RedisChanRegistryUpdate, infra.RedisChanAgentUpdate)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Error("failed to subscribe", zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Пока подписки не было, мутации могли пройти мимо — сбрасываем всё
		s.InvalidateCache()
		s.InvalidateMaturity()
		logger.Info("subscribed to registry invalidation channels")

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				switch msg.Channel {
				case infra.RedisChanRegistryUpdate:
					s.InvalidateCache()
				case infra.RedisChanAgentUpdate:
					s.InvalidateMaturity()
				}
				logger.Debug("cache invalidated by remote signal", zap.String("channel", msg.Channel))
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}
