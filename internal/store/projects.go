package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maxclaw/internal/types"
)

const projectColumns = `id, name, absolute_path, description, tech_stack, discovered_at,
	last_accessed_at, notification_webhook, notification_platform, notification_min_level`

// CreateProject inserts a project. The absolute path must be unique; a
// duplicate surfaces as a conflict.
func (s *Store) CreateProject(p *types.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.DiscoveredAt.IsZero() {
		p.DiscoveredAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, absolute_path, description, tech_stack, discovered_at,
			last_accessed_at, notification_webhook, notification_platform, notification_min_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.AbsolutePath, nullString(p.Description), encodeJSON(p.TechStack),
		timeString(p.DiscoveredAt), nullableTime(p.LastAccessedAt),
		nullString(p.NotificationWebhook), nullString(p.NotificationPlatform), nullString(p.NotificationMinLevel))
	if isUniqueViolation(err) {
		return types.NewConflict("project already exists at %s", p.AbsolutePath)
	}
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func scanProject(row interface{ Scan(...interface{}) error }) (*types.Project, error) {
	var p types.Project
	var desc, stack, lastAccessed, webhook, platform, minLevel sql.NullString
	var discovered string
	if err := row.Scan(&p.ID, &p.Name, &p.AbsolutePath, &desc, &stack, &discovered,
		&lastAccessed, &webhook, &platform, &minLevel); err != nil {
		return nil, err
	}
	p.Description = desc.String
	p.TechStack = decodeStrings(stack.String)
	p.DiscoveredAt = parseTime(discovered)
	p.LastAccessedAt = scanTimePtr(lastAccessed)
	p.NotificationWebhook = webhook.String
	p.NotificationPlatform = platform.String
	p.NotificationMinLevel = minLevel.String
	return &p, nil
}

// GetProject returns the project or a not-found error
func (s *Store) GetProject(id string) (*types.Project, error) {
	row := s.db.QueryRow("SELECT "+projectColumns+" FROM projects WHERE id = ?", id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("project %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// GetProjectByPath looks a project up by its unique absolute path
func (s *Store) GetProjectByPath(absolutePath string) (*types.Project, error) {
	row := s.db.QueryRow("SELECT "+projectColumns+" FROM projects WHERE absolute_path = ?", absolutePath)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("no project at %s", absolutePath)
	}
	if err != nil {
		return nil, fmt.Errorf("get project by path: %w", err)
	}
	return p, nil
}

// GetProjectByName returns the first project with the given name
func (s *Store) GetProjectByName(name string) (*types.Project, error) {
	row := s.db.QueryRow("SELECT "+projectColumns+" FROM projects WHERE name = ? ORDER BY discovered_at LIMIT 1", name)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("project %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	return p, nil
}

// ResolveProject accepts a project id or name
func (s *Store) ResolveProject(idOrName string) (*types.Project, error) {
	p, err := s.GetProject(idOrName)
	if err == nil {
		return p, nil
	}
	if !types.IsNotFound(err) {
		return nil, err
	}
	return s.GetProjectByName(idOrName)
}

// ListProjects returns all projects ordered by name
func (s *Store) ListProjects() ([]*types.Project, error) {
	rows, err := s.db.Query("SELECT " + projectColumns + " FROM projects ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProject persists mutable fields of an existing project
func (s *Store) UpdateProject(p *types.Project) error {
	res, err := s.db.Exec(`
		UPDATE projects SET name = ?, description = ?, tech_stack = ?, last_accessed_at = ?,
			notification_webhook = ?, notification_platform = ?, notification_min_level = ?
		WHERE id = ?`,
		p.Name, nullString(p.Description), encodeJSON(p.TechStack), nullableTime(p.LastAccessedAt),
		nullString(p.NotificationWebhook), nullString(p.NotificationPlatform), nullString(p.NotificationMinLevel),
		p.ID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("project %s not found", p.ID)
	}
	return nil
}

// TouchProject bumps last_accessed_at to now
func (s *Store) TouchProject(id string) error {
	now := time.Now()
	res, err := s.db.Exec("UPDATE projects SET last_accessed_at = ? WHERE id = ?", timeString(now), id)
	if err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("project %s not found", id)
	}
	return nil
}

// DeleteProject removes the project; sessions, activities, schedules and
// teams cascade.
func (s *Store) DeleteProject(id string) error {
	res, err := s.db.Exec("DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("project %s not found", id)
	}
	return nil
}

// CountProjects returns the number of registered projects
func (s *Store) CountProjects() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM projects").Scan(&n); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return n, nil
}
