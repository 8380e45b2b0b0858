package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HerbHall/exhibitdesk/pkg/plugin"
	"github.com/google/uuid"
)

// AuditEntry records one administrator lock override.
type AuditEntry struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	RecordID       string    `json:"record_id"`
	ActorID        string    `json:"actor_id"`
	PreviousHolder string    `json:"previous_holder"`
	Action         string    `json:"action"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditRepository stores lock override history.
type AuditRepository interface {
	// Record inserts an entry. ID and CreatedAt are filled in when empty.
	Record(ctx context.Context, entry *AuditEntry) error

	// List returns entries newest first.
	List(ctx context.Context, kind string, opts ListOptions) (*ListResult[AuditEntry], error)
}

// Compile-time interface guard.
var _ AuditRepository = (*SQLiteAuditRepository)(nil)

// SQLiteAuditRepository implements AuditRepository using SQLite.
type SQLiteAuditRepository struct {
	db *sql.DB
}

// NewSQLiteAuditRepository creates an AuditRepository and runs the
// editor_lock_audit migration.
func NewSQLiteAuditRepository(ctx context.Context, store plugin.Store) (*SQLiteAuditRepository, error) {
	if err := store.Migrate(ctx, "audit", auditMigrations); err != nil {
		return nil, fmt.Errorf("audit migrations: %w", err)
	}
	return &SQLiteAuditRepository{db: store.DB()}, nil
}

func (r *SQLiteAuditRepository) Record(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO editor_lock_audit (id, kind, record_id, actor_id, previous_holder, action, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.RecordID, e.ActorID, e.PreviousHolder, e.Action, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

func (r *SQLiteAuditRepository) List(ctx context.Context, kind string, opts ListOptions) (*ListResult[AuditEntry], error) {
	opts = normalizeListOptions(opts)

	where := "1=1"
	var args []any
	if kind != "" {
		where += " AND kind = ?"
		args = append(args, kind)
	}

	var total int
	//nolint:gosec // where uses parameterized placeholders only
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM editor_lock_audit WHERE "+where, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit entries: %w", err)
	}

	orderDir := "DESC"
	if opts.SortOrder == "asc" {
		orderDir = "ASC"
	}
	args = append(args, opts.Limit, opts.Offset)

	//nolint:gosec // where and orderDir are built from constants
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, kind, record_id, actor_id, previous_holder, action, created_at
		FROM editor_lock_audit WHERE %s
		ORDER BY created_at %s, id %s LIMIT ? OFFSET ?`, where, orderDir, orderDir), args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.RecordID, &e.ActorID,
			&e.PreviousHolder, &e.Action, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return &ListResult[AuditEntry]{Items: entries, Total: total}, nil
}

var auditMigrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create editor_lock_audit table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE editor_lock_audit (
					id              TEXT PRIMARY KEY,
					kind            TEXT NOT NULL,
					record_id       TEXT NOT NULL,
					actor_id        TEXT NOT NULL,
					previous_holder TEXT NOT NULL DEFAULT '',
					action          TEXT NOT NULL,
					created_at      DATETIME NOT NULL
				)`)
			if err != nil {
				return err
			}
			_, err = tx.Exec(`CREATE INDEX idx_lock_audit_created ON editor_lock_audit(created_at)`)
			return err
		},
	},
}
