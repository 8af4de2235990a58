package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/portless-dev/portless/internal/registry"
)

// SaveSnapshot replaces the persisted service table with the given services.
// The snapshot is diagnostic: the daemon reloads and reconciles it at
// startup so `portless list` stays meaningful across restarts.
func (s *Store) SaveSnapshot(ctx context.Context, services []registry.Service) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM services`); err != nil {
			return fmt.Errorf("store: clear services: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO services (domain, port, pid, directory, started_at)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare service insert: %w", err)
		}
		defer stmt.Close()

		for _, svc := range services {
			_, err := stmt.ExecContext(ctx,
				svc.Domain, svc.Port, svc.PID, svc.Directory,
				svc.StartedAt.UTC().Format(time.RFC3339Nano))
			if err != nil {
				return fmt.Errorf("store: save service %s: %w", svc.Domain, err)
			}
		}
		return nil
	})
}

// LoadSnapshot returns the persisted services ordered by domain.
func (s *Store) LoadSnapshot(ctx context.Context) ([]registry.Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, port, pid, directory, started_at
		FROM services ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("store: load services: %w", err)
	}
	defer rows.Close()

	var services []registry.Service
	for rows.Next() {
		var svc registry.Service
		var startedAt string
		if err := rows.Scan(&svc.Domain, &svc.Port, &svc.PID, &svc.Directory, &startedAt); err != nil {
			return nil, fmt.Errorf("store: scan service row: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
			svc.StartedAt = ts
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate service rows: %w", err)
	}
	return services, nil
}
