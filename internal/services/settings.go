package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/HerbHall/exhibitdesk/pkg/plugin"
)

// Pager preference keys. Both live under PagerPrefix.
const (
	PagerPrefix       = "pager."
	SettingPageSize   = PagerPrefix + "page_size"
	SettingMaxVisible = PagerPrefix + "max_visible"
)

// Setting is one stored preference and who last changed it.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingsRepository stores runtime preferences as strings under dotted
// keys grouped by prefix ("pager.").
type SettingsRepository interface {
	// Get returns one setting, or ErrNotFound.
	Get(ctx context.Context, key string) (*Setting, error)

	// List returns the settings whose key starts with prefix, ordered by
	// key. An empty prefix lists everything.
	List(ctx context.Context, prefix string) ([]Setting, error)

	// Put writes every value in one transaction, attributing the change
	// to updatedBy.
	Put(ctx context.Context, values map[string]string, updatedBy string) error

	// Delete removes the settings under prefix and reports how many went.
	Delete(ctx context.Context, prefix string) (int, error)
}

// Compile-time interface guard.
var _ SettingsRepository = (*SQLiteSettingsRepository)(nil)

// SQLiteSettingsRepository implements SettingsRepository on the shared store.
type SQLiteSettingsRepository struct {
	store plugin.Store
}

// NewSQLiteSettingsRepository runs the settings migrations and returns the
// repository.
func NewSQLiteSettingsRepository(ctx context.Context, store plugin.Store) (*SQLiteSettingsRepository, error) {
	if err := store.Migrate(ctx, "settings", settingsMigrations); err != nil {
		return nil, fmt.Errorf("settings migrations: %w", err)
	}
	return &SQLiteSettingsRepository{store: store}, nil
}

func (r *SQLiteSettingsRepository) Get(ctx context.Context, key string) (*Setting, error) {
	var s Setting
	err := r.store.DB().QueryRowContext(ctx,
		`SELECT key, value, updated_by, updated_at FROM settings WHERE key = ?`, key,
	).Scan(&s.Key, &s.Value, &s.UpdatedBy, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}
	return &s, nil
}

func (r *SQLiteSettingsRepository) List(ctx context.Context, prefix string) ([]Setting, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT key, value, updated_by, updated_at FROM settings
		WHERE substr(key, 1, ?) = ?
		ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list settings %q: %w", prefix, err)
	}
	defer rows.Close()

	out := []Setting{}
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedBy, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteSettingsRepository) Put(ctx context.Context, values map[string]string, updatedBy string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := time.Now().UTC()
	return r.store.Tx(ctx, func(tx *sql.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO settings (key, value, updated_by, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT (key) DO UPDATE SET
					value = excluded.value,
					updated_by = excluded.updated_by,
					updated_at = excluded.updated_at`,
				k, values[k], updatedBy, now,
			); err != nil {
				return fmt.Errorf("put setting %q: %w", k, err)
			}
		}
		return nil
	})
}

func (r *SQLiteSettingsRepository) Delete(ctx context.Context, prefix string) (int, error) {
	res, err := r.store.DB().ExecContext(ctx,
		`DELETE FROM settings WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return 0, fmt.Errorf("delete settings %q: %w", prefix, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

var settingsMigrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create settings table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE settings (
					key        TEXT PRIMARY KEY,
					value      TEXT NOT NULL,
					updated_by TEXT NOT NULL DEFAULT '',
					updated_at DATETIME NOT NULL
				)`)
			return err
		},
	},
}

// PagerPrefs are the runtime-adjustable pagination settings.
type PagerPrefs struct {
	PageSize   int `json:"page_size"`
	MaxVisible int `json:"max_visible"`
}

// Validate rejects non-positive values.
func (p PagerPrefs) Validate() error {
	if p.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", p.PageSize)
	}
	if p.MaxVisible <= 0 {
		return fmt.Errorf("max_visible must be positive, got %d", p.MaxVisible)
	}
	return nil
}

// LoadPagerPrefs reads the stored pager preferences in one query. A key that
// is unset or does not hold a positive integer keeps its default.
func LoadPagerPrefs(ctx context.Context, repo SettingsRepository, defaults PagerPrefs) (PagerPrefs, error) {
	stored, err := repo.List(ctx, PagerPrefix)
	if err != nil {
		return defaults, err
	}
	prefs := defaults
	for _, s := range stored {
		n, err := strconv.Atoi(s.Value)
		if err != nil || n <= 0 {
			continue
		}
		switch s.Key {
		case SettingPageSize:
			prefs.PageSize = n
		case SettingMaxVisible:
			prefs.MaxVisible = n
		}
	}
	return prefs, nil
}

// SavePagerPrefs validates prefs and stores both values together.
func SavePagerPrefs(ctx context.Context, repo SettingsRepository, prefs PagerPrefs, updatedBy string) error {
	if err := prefs.Validate(); err != nil {
		return err
	}
	return repo.Put(ctx, map[string]string{
		SettingPageSize:   strconv.Itoa(prefs.PageSize),
		SettingMaxVisible: strconv.Itoa(prefs.MaxVisible),
	}, updatedBy)
}

// ResetPagerPrefs drops the stored pager preferences so the configured
// defaults apply again.
func ResetPagerPrefs(ctx context.Context, repo SettingsRepository) error {
	_, err := repo.Delete(ctx, PagerPrefix)
	return err
}
