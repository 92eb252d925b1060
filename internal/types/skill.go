package types

import (
	"fmt"
	"regexp"
	"time"
)

// Permission tags a capability a skill may request
type Permission string

const (
	PermDBRead  Permission = "db:read"
	PermDBWrite Permission = "db:write"
	PermFSRead  Permission = "fs:read"
	PermFSWrite Permission = "fs:write"
	PermExec    Permission = "exec"
	PermNetwork Permission = "network"
	PermAll     Permission = "all"
)

// ValidPermissions is the closed set a manifest may draw from
var ValidPermissions = map[Permission]bool{
	PermDBRead:  true,
	PermDBWrite: true,
	PermFSRead:  true,
	PermFSWrite: true,
	PermExec:    true,
	PermNetwork: true,
	PermAll:     true,
}

// SkillSource distinguishes bundled skills from user-installed ones
type SkillSource string

const (
	SkillBuiltin  SkillSource = "builtin"
	SkillExternal SkillSource = "external"
)

// SkillCommand is one invocable command declared by a manifest
type SkillCommand struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Usage       string `yaml:"usage,omitempty" json:"usage,omitempty"`
}

// SkillManifest is the parsed skill.yaml
type SkillManifest struct {
	Name        string            `yaml:"name" json:"name"`
	Version     string            `yaml:"version" json:"version"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Author      string            `yaml:"author,omitempty" json:"author,omitempty"`
	Entry       string            `yaml:"entry,omitempty" json:"entry,omitempty"`
	Commands    []SkillCommand    `yaml:"commands" json:"commands"`
	Permissions []Permission      `yaml:"permissions" json:"permissions"`
	Hooks       map[string]string `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	Config      map[string]string `yaml:"config,omitempty" json:"config,omitempty"`
}

var (
	skillNameRe = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)
	semverRe    = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)
)

// Validate enforces the manifest contract: lower-kebab name, semver
// version, at least one command, at least one known permission.
func (m *SkillManifest) Validate() error {
	if m.Name == "" || len(m.Name) > 100 {
		return fmt.Errorf("skill name must be 1-100 characters")
	}
	if !skillNameRe.MatchString(m.Name) {
		return fmt.Errorf("skill name %q must be lower-kebab-case", m.Name)
	}
	if !semverRe.MatchString(m.Version) {
		return fmt.Errorf("skill version %q is not semver", m.Version)
	}
	if len(m.Commands) == 0 {
		return fmt.Errorf("skill %q declares no commands", m.Name)
	}
	for _, c := range m.Commands {
		if c.Name == "" {
			return fmt.Errorf("skill %q has a command without a name", m.Name)
		}
	}
	if len(m.Permissions) == 0 {
		return fmt.Errorf("skill %q declares no permissions", m.Name)
	}
	for _, p := range m.Permissions {
		if !ValidPermissions[p] {
			return fmt.Errorf("skill %q declares unknown permission %q", m.Name, p)
		}
	}
	return nil
}

// HasCommand reports whether the manifest declares the named command
func (m *SkillManifest) HasCommand(name string) bool {
	for _, c := range m.Commands {
		if c.Name == name {
			return true
		}
	}
	return false
}

// HasHook reports whether the manifest subscribes to the named event
func (m *SkillManifest) HasHook(event string) bool {
	_, ok := m.Hooks[event]
	return ok
}

// SkillRecord is the registry's view of a loaded skill
type SkillRecord struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Version  string            `json:"version"`
	Source   SkillSource       `json:"source"`
	Path     string            `json:"path"`
	Enabled  bool              `json:"enabled"`
	Config   map[string]string `json:"config,omitempty"`
	LoadedAt *time.Time        `json:"loadedAt,omitempty"`
	Error    string            `json:"error,omitempty"`
	Manifest SkillManifest     `json:"manifest"`
}
