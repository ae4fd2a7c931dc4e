package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
)

// Get возвращает запись окружения workload. (nil, nil) — окружение не собрано.
func (s *Store) Get(ctx context.Context, workloadID string) (*domain.EnvironmentRecord, error) {
	query := `
		SELECT workload_id, image_tag, package_set_hash, packages, built_at
		FROM environments WHERE workload_id = $1`

	rec := &domain.EnvironmentRecord{}
	err := s.pool.QueryRow(ctx, query, workloadID).Scan(
		&rec.WorkloadID, &rec.ImageTag, &rec.PackageSetHash, &rec.Packages, &rec.BuiltAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get environment: %w", err)
	}
	return rec, nil
}

// Upsert перезаписывает окружение workload: у одного workload ровно одна
// актуальная запись, старые теги образов прибирает cleanup.
func (s *Store) Upsert(ctx context.Context, rec *domain.EnvironmentRecord) error {
	query := `
		INSERT INTO environments (workload_id, image_tag, package_set_hash, packages, built_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workload_id) DO UPDATE SET
			image_tag = EXCLUDED.image_tag,
			package_set_hash = EXCLUDED.package_set_hash,
			packages = EXCLUDED.packages,
			built_at = EXCLUDED.built_at`

	_, err := s.pool.Exec(ctx, query,
		rec.WorkloadID, rec.ImageTag, rec.PackageSetHash, rec.Packages, rec.BuiltAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to upsert environment: %w", err)
	}
	return nil
}

// Delete убирает запись. Отсутствие строки — не ошибка (идемпотентность cleanup).
func (s *Store) Delete(ctx context.Context, workloadID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM environments WHERE workload_id = $1`, workloadID)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete environment: %w", err)
	}
	return nil
}
