package governance

import (
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
)

// Тексты отказов. Downstream-инструменты и операторы различают четыре
// семейства причин по тексту, поэтому формулировки — часть контракта.
const (
	reasonApprovalRequired = "approval required"
	reasonStudentBlocked   = "package execution is disabled for this maturity level"
	reasonAwaitingApproval = "awaiting approval"
)

// Evaluate — чистая функция принятия решения. Порядок проверок фиксирован
// и менять его нельзя: ban > student-block > pending > maturity-gate.
// Перестановка меняет наблюдаемые причины отказов, на которые завязан
// downstream-аудит (например, autonomous-агент на banned-пакете должен
// получить ban_reason, а student на нем же — тоже ban_reason, не student-block).
func Evaluate(maturity domain.MaturityLevel, record *domain.PackageRecord) domain.PermissionDecision {
	now := time.Now()

	// 1. Записи нет — Default Deny (Zero Trust, fail-closed)
	if record == nil {
		return deny(reasonApprovalRequired, now)
	}

	// 2. Ban имеет абсолютный приоритет, включая уровень autonomous
	if record.Status == domain.StatusBanned {
		return deny(record.BanReason, now)
	}

	// 3. Student не исполняет пакеты вообще. Проверка строго ПОСЛЕ ban:
	//    при совпадении обоих условий наружу уходит причина бана
	if maturity == domain.MaturityStudent {
		return deny(reasonStudentBlocked, now)
	}

	// 4. Известен, но никем не запрошен — неотличим от неизвестного
	if record.Status == domain.StatusUntrusted {
		return deny(reasonApprovalRequired, now)
	}

	// 5. Запрошен, но решения оператора еще нет
	if record.Status == domain.StatusPending {
		return deny(reasonAwaitingApproval, now)
	}

	// 6. Активен и зрелость достаточна
	if record.Status == domain.StatusActive && maturity.AtLeast(record.MinMaturity) {
		return domain.PermissionDecision{Allowed: true, DecidedAt: now}
	}

	// 7. Активен, но зрелости не хватает
	return deny(fmt.Sprintf("requires higher maturity level: %s", record.MinMaturity), now)
}

func deny(reason string, at time.Time) domain.PermissionDecision {
	return domain.PermissionDecision{Allowed: false, Reason: reason, DecidedAt: at}
}
