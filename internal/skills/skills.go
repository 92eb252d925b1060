// Package skills hosts pluggable daemon extensions. A skill is a
// directory with a skill.yaml manifest; built-in skills are compiled
// into the binary while external ones are driven through their
// declared entry command.
package skills

import (
	"log"
	"os"

	"github.com/maxclaw/internal/store"
	"github.com/maxclaw/internal/types"
)

// Skill is the contract every hosted extension implements. Activate is
// called once at registration with the skill's capability context;
// Deactivate is called at unregistration and must tolerate being
// called on a skill that never activated.
type Skill interface {
	Activate(ctx *Context) error
	Deactivate() error
	Execute(command string, args []string, options map[string]interface{}) (interface{}, error)
	HandleHook(event string, data map[string]interface{}) error
}

// Context is the capability surface handed to a skill at activation.
// Everything a skill may touch goes through here so the declared
// permission set can be enforced in one place.
type Context struct {
	store       *store.Store
	logger      *log.Logger
	skillDir    string
	config      map[string]string
	permissions []types.Permission
	emit        func(event string, data map[string]interface{})
}

// Store returns the shared persistence handle. Callers holding only
// db:read must not write; the handle itself is not split because
// built-in skills are trusted code.
func (c *Context) Store() *store.Store { return c.store }

// Logger returns the per-skill logger, prefixed with the skill name.
func (c *Context) Logger() *log.Logger { return c.logger }

// SkillDir returns the directory the skill was loaded from.
func (c *Context) SkillDir() string { return c.skillDir }

// Config returns the manifest's config block merged with any stored
// overrides.
func (c *Context) Config() map[string]string { return c.config }

// HasPermission reports whether the skill declared the given
// capability. The "all" grant satisfies every check.
func (c *Context) HasPermission(p types.Permission) bool {
	for _, granted := range c.permissions {
		if granted == types.PermAll || granted == p {
			return true
		}
	}
	return false
}

// GetProjectPath resolves a project id to its absolute path. Requires
// the fs:read permission.
func (c *Context) GetProjectPath(projectID string) (string, error) {
	if !c.HasPermission(types.PermFSRead) {
		return "", types.NewValidation("skill lacks fs:read permission")
	}
	project, err := c.store.GetProject(projectID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(project.AbsolutePath); err != nil {
		return "", types.NewNotFound("project path %s is gone", project.AbsolutePath)
	}
	return project.AbsolutePath, nil
}

// Emit triggers the named hook on every enabled skill subscribed to
// the event, including the emitter itself.
func (c *Context) Emit(event string, data map[string]interface{}) {
	if c.emit != nil {
		c.emit(event, data)
	}
}
