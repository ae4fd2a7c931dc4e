package domain

import "fmt"

// MaturityLevel — уровень зрелости (доверия) агента.
// Строго упорядоченное перечисление: сравнение ТОЛЬКО через rank(),
// никаких строковых сравнений по коду (single source of truth).
type MaturityLevel string

const (
	MaturityStudent    MaturityLevel = "student"    // Исполнение пакетов запрещено полностью
	MaturityIntern     MaturityLevel = "intern"     // Базовый доступ к одобренным пакетам
	MaturitySupervised MaturityLevel = "supervised" // Расширенный доступ
	MaturityAutonomous MaturityLevel = "autonomous" // Максимальный уровень. Ban действует и на него
)

// maturityRank — единственное место, где задан порядок уровней.
var maturityRank = map[MaturityLevel]int{
	MaturityStudent:    0,
	MaturityIntern:     1,
	MaturitySupervised: 2,
	MaturityAutonomous: 3,
}

// ParseMaturity валидирует строку из API/БД и возвращает уровень.
func ParseMaturity(s string) (MaturityLevel, error) {
	m := MaturityLevel(s)
	if _, ok := maturityRank[m]; !ok {
		return "", fmt.Errorf("unknown maturity level: %q", s)
	}
	return m, nil
}

// Valid сообщает, известен ли уровень (защита от мусора из БД).
func (m MaturityLevel) Valid() bool {
	_, ok := maturityRank[m]
	return ok
}

// AtLeast сравнивает уровни по тотальному порядку.
// Неизвестный уровень трактуем как самый низкий (Zero Trust).
func (m MaturityLevel) AtLeast(other MaturityLevel) bool {
	return maturityRank[m] >= maturityRank[other]
}

func (m MaturityLevel) String() string {
	return string(m)
}
