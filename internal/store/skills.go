package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/maxclaw/internal/types"
)

const skillColumns = "id, name, version, source, path, enabled, config, loaded_at, error, manifest"

// UpsertSkill inserts a skill record or refreshes the row for an
// already-registered skill of the same name.
func (s *Store) UpsertSkill(r *types.SkillRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Name == "" {
		r.Name = r.Manifest.Name
	}
	if r.Version == "" {
		r.Version = r.Manifest.Version
	}
	manifest, err := json.Marshal(r.Manifest)
	if err != nil {
		return fmt.Errorf("encode skill manifest: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO skills (id, name, version, source, path, enabled, config, loaded_at, error, manifest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			source = excluded.source,
			path = excluded.path,
			config = excluded.config,
			loaded_at = excluded.loaded_at,
			error = excluded.error,
			manifest = excluded.manifest`,
		r.ID, r.Name, r.Version, string(r.Source), nullString(r.Path),
		boolInt(r.Enabled), encodeJSON(r.Config), nullableTime(r.LoadedAt),
		nullString(r.Error), string(manifest))
	if err != nil {
		return fmt.Errorf("upsert skill: %w", err)
	}
	return nil
}

func scanSkill(row interface{ Scan(...interface{}) error }) (*types.SkillRecord, error) {
	var r types.SkillRecord
	var path, cfg, loaded, errMsg, manifest sql.NullString
	var enabled int
	if err := row.Scan(&r.ID, &r.Name, &r.Version, &r.Source, &path, &enabled,
		&cfg, &loaded, &errMsg, &manifest); err != nil {
		return nil, err
	}
	r.Path = path.String
	r.Enabled = enabled != 0
	r.Config = decodeStringMap(cfg.String)
	r.LoadedAt = scanTimePtr(loaded)
	r.Error = errMsg.String
	if manifest.Valid && manifest.String != "" {
		if err := json.Unmarshal([]byte(manifest.String), &r.Manifest); err != nil {
			return nil, fmt.Errorf("decode skill manifest: %w", err)
		}
	}
	return &r, nil
}

// GetSkillByName returns the registered skill or a not-found error
func (s *Store) GetSkillByName(name string) (*types.SkillRecord, error) {
	row := s.db.QueryRow("SELECT "+skillColumns+" FROM skills WHERE name = ?", name)
	r, err := scanSkill(row)
	if err == sql.ErrNoRows {
		return nil, types.NewNotFound("skill %s not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get skill: %w", err)
	}
	return r, nil
}

// ListSkills returns registered skills ordered by name
func (s *Store) ListSkills() ([]*types.SkillRecord, error) {
	rows, err := s.db.Query("SELECT " + skillColumns + " FROM skills ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []*types.SkillRecord
	for rows.Next() {
		r, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetSkillEnabled toggles a skill without re-registering it
func (s *Store) SetSkillEnabled(name string, enabled bool) error {
	res, err := s.db.Exec("UPDATE skills SET enabled = ? WHERE name = ?", boolInt(enabled), name)
	if err != nil {
		return fmt.Errorf("set skill enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("skill %s not found", name)
	}
	return nil
}

// DeleteSkill removes a skill record
func (s *Store) DeleteSkill(name string) error {
	res, err := s.db.Exec("DELETE FROM skills WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete skill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewNotFound("skill %s not found", name)
	}
	return nil
}
