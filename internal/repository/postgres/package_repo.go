package postgres

/*
Файл package_repo.go отвечает за хранение реестра пакетов (Package Registry).
Слой отделяет долговременное состояние реестра в PostgreSQL от горячего
кэша решений в оперативной памяти сервиса governance.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
)

// GetPackage возвращает запись реестра для точной пары name@version.
// (nil, nil) — записи нет: для движка это штатный Default Deny, не ошибка.
func (s *Store) GetPackage(ctx context.Context, name, version string) (*domain.PackageRecord, error) {
	query := `
		SELECT name, version, status, min_maturity, approved_by, approved_at,
		       ban_reason, requested_by, created_at, updated_at
		FROM packages
		WHERE name = $1 AND version = $2`

	rec := &domain.PackageRecord{}
	var minMaturity, approvedBy, banReason, requestedBy sql.NullString
	var approvedAt sql.NullTime

	err := s.pool.QueryRow(ctx, query, name, version).Scan(
		&rec.Name, &rec.Version, &rec.Status, &minMaturity, &approvedBy,
		&approvedAt, &banReason, &requestedBy, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: failed to get package: %w", err)
	}

	if minMaturity.Valid {
		rec.MinMaturity = domain.MaturityLevel(minMaturity.String)
	}
	if approvedBy.Valid {
		val := approvedBy.String
		rec.ApprovedBy = &val
	}
	if approvedAt.Valid {
		val := approvedAt.Time
		rec.ApprovedAt = &val
	}
	rec.BanReason = banReason.String
	rec.RequestedBy = requestedBy.String

	return rec, nil
}

func (s *Store) CreatePackage(ctx context.Context, rec *domain.PackageRecord) error {
	query := `
		INSERT INTO packages (name, version, status, min_maturity, approved_by,
		                      approved_at, ban_reason, requested_by, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		rec.Name, rec.Version, rec.Status, string(rec.MinMaturity),
		rec.ApprovedBy, rec.ApprovedAt, rec.BanReason, rec.RequestedBy,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create package: %w", err)
	}
	return nil
}

func (s *Store) UpdatePackage(ctx context.Context, rec *domain.PackageRecord) error {
	query := `
		UPDATE packages
		SET status = $1,
		    min_maturity = NULLIF($2, ''),
		    approved_by = $3,
		    approved_at = $4,
		    ban_reason = NULLIF($5, ''),
		    requested_by = NULLIF($6, ''),
		    updated_at = $7
		WHERE name = $8 AND version = $9`

	ct, err := s.pool.Exec(ctx, query,
		rec.Status, string(rec.MinMaturity), rec.ApprovedBy, rec.ApprovedAt,
		rec.BanReason, rec.RequestedBy, rec.UpdatedAt, rec.Name, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update package: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("postgres: package %s@%s not found", rec.Name, rec.Version)
	}
	return nil
}

// ListPackages возвращает реестр, опционально сужая выборку по статусу.
func (s *Store) ListPackages(ctx context.Context, status string) ([]domain.PackageRecord, error) {
	query := `
		SELECT name, version, status, min_maturity, approved_by, approved_at,
		       ban_reason, requested_by, created_at, updated_at
		FROM packages`

	var args []interface{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY name, version"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query packages: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]domain.PackageRecord, 0)
	for rows.Next() {
		var rec domain.PackageRecord
		var minMaturity, approvedBy, banReason, requestedBy sql.NullString
		var approvedAt sql.NullTime

		err := rows.Scan(
			&rec.Name, &rec.Version, &rec.Status, &minMaturity, &approvedBy,
			&approvedAt, &banReason, &requestedBy, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan package: %w", err)
		}

		if minMaturity.Valid {
			rec.MinMaturity = domain.MaturityLevel(minMaturity.String)
		}
		if approvedBy.Valid {
			val := approvedBy.String
			rec.ApprovedBy = &val
		}
		if approvedAt.Valid {
			val := approvedAt.Time
			rec.ApprovedAt = &val
		}
		rec.BanReason = banReason.String
		rec.RequestedBy = requestedBy.String

		results = append(results, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}
