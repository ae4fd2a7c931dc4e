package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/spaceai-pkg-sentinel/internal/audit"
)

// WriteBatch — пакетная вставка событий аудита одним запросом.
// Вызывается фоновым воркером, поэтому ценой здесь является throughput,
// а не латентность одиночной записи.
func (s *Store) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_log
	numFields := 12
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12)

		vals = append(vals,
			e.ID, e.TraceID, e.AgentID, e.Package, e.Version, e.WorkloadID,
			e.Action, e.Decision, e.Reason, e.Actor, e.DurationMs, e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO audit_log (id, trace_id, agent_id, package, version, workload_id, action, decision, reason, actor, duration_ms, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := s.pool.Exec(ctx, query, vals...)
	return err
}

// FindAuditEvents — выборка журнала для консоли с фильтрами.
func (s *Store) FindAuditEvents(ctx context.Context, f audit.Filter) ([]audit.AuditEvent, error) {
	query := `
		SELECT id, trace_id, agent_id, package, version, workload_id,
		       action, decision, reason, actor, duration_ms, timestamp
		FROM audit_log`

	var conds []string
	var args []interface{}
	add := func(cond string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if f.Package != "" {
		add("package = $%d", f.Package)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.From != nil {
		add("timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		add("timestamp <= $%d", *f.To)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit log: %w", err)
	}
	defer rows.Close()

	results := make([]audit.AuditEvent, 0)
	for rows.Next() {
		var e audit.AuditEvent
		err := rows.Scan(
			&e.ID, &e.TraceID, &e.AgentID, &e.Package, &e.Version, &e.WorkloadID,
			&e.Action, &e.Decision, &e.Reason, &e.Actor, &e.DurationMs, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit event: %w", err)
		}
		results = append(results, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}
