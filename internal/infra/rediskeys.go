package infra

// RedisNamespace — базовый префикс для изоляции данных проекта в Redis.
const RedisNamespace = "sentinel"

// Каналы Pub/Sub (события)
const (
	// RedisChanRegistryUpdate — широковещательный сигнал о мутации реестра пакетов
	// (approve/ban/lift-ban). Каждый инстанс шлюза по нему сбрасывает кэш решений.
	RedisChanRegistryUpdate = RedisNamespace + ":registry:update"

	// RedisChanAgentUpdate — смена зрелости агента; сбрасывает кэш резолва зрелости.
	RedisChanAgentUpdate = RedisNamespace + ":agents:update"
)
