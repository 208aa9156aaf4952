// Package postgres persists family groups in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	_ "github.com/lib/pq" // postgres driver
)

const schema = `CREATE TABLE IF NOT EXISTS family_groups (
	group_code TEXT PRIMARY KEY,
	group_name TEXT NOT NULL,
	members    JSONB NOT NULL DEFAULT '[]'::jsonb,
	status     TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const upsertGroup = `INSERT INTO family_groups (group_code, group_name, members, status, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (group_code) DO UPDATE SET
	group_name = EXCLUDED.group_name,
	members    = EXCLUDED.members,
	status     = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at`

const selectGroup = `SELECT group_code, group_name, members, status, updated_at
FROM family_groups WHERE group_code = $1`

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// FamilyRepository implements family.Repository on a family_groups table.
type FamilyRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFamilyRepository creates a repository on db.
func NewFamilyRepository(db *sql.DB, logger *slog.Logger) *FamilyRepository {
	return &FamilyRepository{db: db, logger: logger}
}

// EnsureSchema creates the family_groups table if it does not exist.
func (r *FamilyRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create family_groups: %w", err)
	}
	return nil
}

// Upsert inserts the group or replaces the stored one with the same code.
func (r *FamilyRepository) Upsert(ctx context.Context, g domain.FamilyGroup) error {
	members, err := json.Marshal(g.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, upsertGroup,
		g.GroupCode, g.GroupName, string(members), g.Status, g.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert family group %s: %w", g.GroupCode, err)
	}
	return nil
}

// Get loads the group stored under code.
func (r *FamilyRepository) Get(ctx context.Context, code string) (domain.FamilyGroup, error) {
	var (
		g       domain.FamilyGroup
		members []byte
	)
	err := r.db.QueryRowContext(ctx, selectGroup, code).
		Scan(&g.GroupCode, &g.GroupName, &members, &g.Status, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FamilyGroup{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.FamilyGroup{}, fmt.Errorf("get family group %s: %w", code, err)
	}
	if err := json.Unmarshal(members, &g.Members); err != nil {
		r.logger.Warn("corrupt members column", "group_code", code, "error", err)
		return domain.FamilyGroup{}, fmt.Errorf("decode members of %s: %w", code, err)
	}
	if g.Members == nil {
		g.Members = []domain.FamilyMember{}
	}
	g.UpdatedAt = g.UpdatedAt.UTC()
	return g, nil
}
