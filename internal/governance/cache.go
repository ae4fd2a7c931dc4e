package governance

import (
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
)

// Cache — потокобезопасный TTL-кэш. Hot Path шлюза работает только с RAM:
// чтение — RLock по мапе, истечение TTL проверяется пассивно при чтении,
// никаких фоновых уборщиков. Владелец кэша — GovernanceService, извне
// его никто не мутирует.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[V]
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func NewCache[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[string]cacheEntry[V])}
}

// Get возвращает значение, если оно есть и не протухло.
// Протухшую запись удаляем лениво, прямо здесь.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Перепроверка под write-lock: запись могли успеть обновить
		if cur, still := c.entries[key]; still && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = cacheEntry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear сбрасывает кэш целиком. Точечная инвалидация по паттерну
// error-prone, а hit-rate после полного сброса проседает лишь на секунды —
// поэтому на любую административную мутацию реестра отвечаем Clear().
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry[V])
	c.mu.Unlock()
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// decisionKey — ключ кэша решений. Зрелость входит в ключ: решение зависит
// от уровня агента, а не от его identity, поэтому агенты одного уровня
// разделяют запись.
func decisionKey(name, version string, maturity domain.MaturityLevel) string {
	return fmt.Sprintf("pkg:%s:%s:%s", name, version, maturity)
}

// maturityKey — ключ кэша резолва зрелости агента.
func maturityKey(agentID string) string {
	return "agent:" + agentID
}
