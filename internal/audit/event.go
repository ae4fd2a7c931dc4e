package audit

import "time"

// Action — тип события аудита.
type Action string

const (
	ActionPermissionCheck Action = "permission_check"
	ActionPackageRequest  Action = "package_request"
	ActionPackageApprove  Action = "package_approve"
	ActionPackageBan      Action = "package_ban"
	ActionBanLift         Action = "ban_lift"
	ActionInstall         Action = "install"
	ActionExecute         Action = "execute"
	ActionCleanup         Action = "cleanup"
)

// AuditEvent — одна запись аудита. Write-once: после записи не мутируется.
// Actor — кто инициировал: agent_id в Data Plane, user_id оператора в Console.
type AuditEvent struct {
	ID         string    `json:"id"`       // UUID события
	TraceID    string    `json:"trace_id"` // Сквозной ID запроса
	AgentID    string    `json:"agent_id"`
	Package    string    `json:"package"`
	Version    string    `json:"version"`
	WorkloadID string    `json:"workload_id,omitempty"`
	Action     Action    `json:"action"`
	Decision   string    `json:"decision"` // "allowed" / "denied" / "success" / "failed"
	Reason     string    `json:"reason,omitempty"`
	Actor      string    `json:"actor"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Filter — критерии выборки для консольного endpoint'а аудита.
type Filter struct {
	AgentID string
	Package string
	Action  string
	From    *time.Time
	To      *time.Time
	Limit   int
}
