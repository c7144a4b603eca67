package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"stockledger/backend/internal/calendar"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sqlx.DB
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// maxTxAttempts bounds how often inTx reruns fn after a serialization
// failure or deadlock.
const maxTxAttempts = 4

// inTx runs fn inside a SERIALIZABLE transaction and commits when fn
// returns nil. Serialization failures and deadlocks roll back and rerun fn,
// so fn must only assign to captured variables, never accumulate.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		if err = s.runTx(ctx, fn); !isRetryableTxError(err) {
			return err
		}
		if attempt == maxTxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * 15 * time.Millisecond):
		}
	}
	return fmt.Errorf("transaction gave up after %d attempts: %w", maxTxAttempts, err)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, entityID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows := make([]auditRow, 0, limit)
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR entity_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, entityID, limit)
	if err != nil {
		return nil, err
	}

	logs := make([]domain.AuditLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, domain.AuditLog{
			ID:            row.ID,
			ActorUsername: row.ActorUsername,
			ActorRole:     row.ActorRole,
			Action:        row.Action,
			EntityType:    row.EntityType,
			EntityID:      row.EntityID,
			Detail:        row.Detail,
			CreatedAt:     row.CreatedAt.UTC(),
		})
	}
	return logs, nil
}

// markStale records that snapshots of itemID from day onwards predate a
// backdated change. The earliest day wins.
func markStale(ctx context.Context, tx *sqlx.Tx, itemID string, day time.Time, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_invalidations (item_id, from_date, created_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (item_id)
		DO UPDATE SET from_date = LEAST(snapshot_invalidations.from_date, EXCLUDED.from_date)
	`, itemID, day, at)
	return err
}

// lockItems takes row locks in ascending id order and returns the locked rows.
func lockItems(ctx context.Context, tx *sqlx.Tx, ids []string) (map[string]itemRow, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	rows := make([]itemRow, 0, len(sorted))
	if err := tx.SelectContext(ctx, &rows, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, sorted); err != nil {
		return nil, err
	}

	out := make(map[string]itemRow, len(rows))
	for _, row := range rows {
		out[row.ID] = row
	}
	for _, id := range sorted {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("%w: item %s", store.ErrNotFound, id)
		}
	}
	return out, nil
}

func setStock(ctx context.Context, tx *sqlx.Tx, next map[string]int64, at time.Time) error {
	ids := make([]string, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE items SET stock_base_units = $2, updated_at = $3 WHERE id = $1
		`, id, next[id], at); err != nil {
			return err
		}
	}
	return nil
}

// isRetryableTxError reports serialization_failure and deadlock_detected.
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return calendar.Normalize(*val)
}

func dayPtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	day := calendar.Normalize(val.Time)
	return &day
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
