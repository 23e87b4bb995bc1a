// Package identity resolves the workspace/device/link rows events and
// sessions hang off of (spec.md §4.A). Every operation is an atomic
// insert-or-select so concurrent first-sighting callers never race each
// other into duplicate rows or lost updates.
package identity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devtrack/eventpipeline/pkg/idgen"
	"github.com/devtrack/eventpipeline/pkg/models"
)

// Hints carries optional fields discovered from an event's payload that
// should backfill a workspace row the first time they're seen.
type Hints struct {
	DefaultBranch *string
}

// Resolver resolves and upserts workspace/device/link rows directly
// against Postgres — no ORM, grounded on the teacher's own non-ent
// precedent for ad hoc SQL (pkg/events/publisher.go).
type Resolver struct {
	db *sql.DB
}

// New wraps a *sql.DB for identity resolution.
func New(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// ResolveOrCreateWorkspace upserts a workspace by canonical_id, returning
// its ULID. On first sight it allocates a new ULID and derives a display
// name from the canonical id's tail. On every sight it bumps
// last_seen_at and, if hints.DefaultBranch is set and the stored value is
// still null, backfills it.
func (r *Resolver) ResolveOrCreateWorkspace(ctx context.Context, canonicalID string, hints Hints) (string, error) {
	now := time.Now().UTC()
	newID := idgen.New()
	displayName := idgen.DisplayNameFromCanonical(canonicalID)

	// Insert-or-select: the conflict branch intentionally does nothing to
	// the id so a racing second caller observes the first caller's row.
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, canonical_id, display_name, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (canonical_id) DO NOTHING`,
		newID, canonicalID, displayName, now)
	if err != nil {
		return "", fmt.Errorf("identity: inserting workspace: %w", err)
	}

	var id string
	err = r.db.QueryRowContext(ctx,
		`SELECT id FROM workspaces WHERE canonical_id = $1`, canonicalID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("identity: selecting workspace: %w", err)
	}

	if _, err := r.db.ExecContext(ctx,
		`UPDATE workspaces SET last_seen_at = $1 WHERE id = $2`, now, id); err != nil {
		return "", fmt.Errorf("identity: touching workspace: %w", err)
	}

	if hints.DefaultBranch != nil {
		if _, err := r.db.ExecContext(ctx,
			`UPDATE workspaces SET default_branch = $1 WHERE id = $2 AND default_branch IS NULL`,
			*hints.DefaultBranch, id); err != nil {
			return "", fmt.Errorf("identity: backfilling default_branch: %w", err)
		}
	}

	return id, nil
}

// GetWorkspace fetches a workspace by its internal ULID.
func (r *Resolver) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var w models.Workspace
	err := r.db.QueryRowContext(ctx, `
		SELECT id, canonical_id, display_name, default_branch, created_at, last_seen_at
		FROM workspaces WHERE id = $1`, id,
	).Scan(&w.ID, &w.CanonicalID, &w.DisplayName, &w.DefaultBranch, &w.CreatedAt, &w.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("identity: getting workspace: %w", err)
	}
	return &w, nil
}

// ListWorkspaces returns all workspaces ordered by most recently seen.
func (r *Resolver) ListWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, canonical_id, display_name, default_branch, created_at, last_seen_at
		FROM workspaces ORDER BY last_seen_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("identity: listing workspaces: %w", err)
	}
	defer rows.Close()

	var out []models.Workspace
	for rows.Next() {
		var w models.Workspace
		if err := rows.Scan(&w.ID, &w.CanonicalID, &w.DisplayName, &w.DefaultBranch, &w.CreatedAt, &w.LastSeenAt); err != nil {
			return nil, fmt.Errorf("identity: scanning workspace: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ResolveOrCreateDevice upserts a device row keyed by the externally
// supplied device id, bumping last_seen_at on every sight.
func (r *Resolver) ResolveOrCreateDevice(ctx context.Context, deviceID string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, created_at, last_seen_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO UPDATE SET last_seen_at = $2`,
		deviceID, now)
	if err != nil {
		return fmt.Errorf("identity: upserting device: %w", err)
	}
	return nil
}

// EnsureWorkspaceDeviceLink records that device was seen working out of
// localPath within workspace, upserting last_seen_at.
func (r *Resolver) EnsureWorkspaceDeviceLink(ctx context.Context, workspaceID, deviceID, localPath string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workspace_devices (workspace_id, device_id, local_path, last_seen_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, device_id, local_path) DO UPDATE SET last_seen_at = $4`,
		workspaceID, deviceID, localPath, now)
	if err != nil {
		return fmt.Errorf("identity: upserting workspace_device link: %w", err)
	}
	return nil
}
