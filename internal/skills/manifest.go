package skills

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/maxclaw/internal/types"
)

// ManifestFile is the fixed name of the manifest inside a skill
// directory.
const ManifestFile = "skill.yaml"

// LoadManifest reads and validates the skill.yaml in dir.
func LoadManifest(dir string) (*types.SkillManifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewNotFound("no %s in %s", ManifestFile, dir)
		}
		return nil, types.NewOperational(err, "reading %s", path)
	}
	var m types.SkillManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, types.NewValidation("parsing %s: %v", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, types.NewValidation("%s: %v", path, err)
	}
	return &m, nil
}

// LoadDir scans a skills directory for subdirectories carrying a
// manifest, wraps each in an external skill and registers it.
// Enabled state from previously stored records is preserved. Broken
// skills are logged and skipped; the count of registered skills is
// returned.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, types.NewOperational(err, "reading skills directory %s", dir)
	}

	loaded := 0
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		skillDir := filepath.Join(dir, de.Name())
		manifest, err := LoadManifest(skillDir)
		if err != nil {
			if !types.IsNotFound(err) {
				r.logger.Printf("[SKILLS] skipping %s: %v", skillDir, err)
			}
			continue
		}
		record := &types.SkillRecord{
			Name:     manifest.Name,
			Version:  manifest.Version,
			Source:   types.SkillExternal,
			Path:     skillDir,
			Enabled:  true,
			Config:   manifest.Config,
			Manifest: *manifest,
		}
		if prev, err := r.store.GetSkillByName(manifest.Name); err == nil {
			record.ID = prev.ID
			record.Enabled = prev.Enabled
			if len(prev.Config) > 0 {
				record.Config = prev.Config
			}
		}
		if err := r.Register(NewExternalSkill(manifest, skillDir), record); err != nil {
			r.logger.Printf("[SKILLS] failed to register %s: %v", manifest.Name, err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// resolveEntry expands the manifest entry to an absolute path when it
// points inside the skill directory, leaving bare command names for
// PATH lookup.
func resolveEntry(dir, entry string) (string, error) {
	if entry == "" {
		return "", fmt.Errorf("manifest has no entry")
	}
	if filepath.IsAbs(entry) {
		return entry, nil
	}
	candidate := filepath.Join(dir, entry)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return entry, nil
}
