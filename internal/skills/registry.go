package skills

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maxclaw/internal/store"
	"github.com/maxclaw/internal/types"
)

// entry pairs a live skill with its registry record.
type entry struct {
	skill  Skill
	record *types.SkillRecord
}

// Registry owns the lifecycle of every loaded skill: registration,
// enable/disable state, command dispatch, and hook fan-out. State
// changes are mirrored to the store so skills survive daemon restarts.
type Registry struct {
	store  *store.Store
	logger *log.Logger

	mu     sync.Mutex
	skills map[string]*entry
}

func NewRegistry(st *store.Store, logger *log.Logger) *Registry {
	return &Registry{
		store:  st,
		logger: logger,
		skills: make(map[string]*entry),
	}
}

// Register validates the record's manifest, activates the skill with a
// freshly built capability context and persists the record. A second
// registration under the same name is a conflict.
func (r *Registry) Register(skill Skill, record *types.SkillRecord) error {
	if skill == nil {
		return types.NewValidation("skill implementation is nil")
	}
	if err := record.Manifest.Validate(); err != nil {
		return types.NewValidation("invalid manifest: %v", err)
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.Name = record.Manifest.Name
	record.Version = record.Manifest.Version

	r.mu.Lock()
	if _, exists := r.skills[record.Name]; exists {
		r.mu.Unlock()
		return types.NewConflict("skill %s is already registered", record.Name)
	}
	// Reserve the name before activating so concurrent registrations
	// of the same skill cannot both win.
	r.skills[record.Name] = &entry{skill: skill, record: record}
	r.mu.Unlock()

	ctx := &Context{
		store:       r.store,
		logger:      log.New(r.logger.Writer(), fmt.Sprintf("[SKILL:%s] ", record.Name), r.logger.Flags()),
		skillDir:    record.Path,
		config:      record.Config,
		permissions: record.Manifest.Permissions,
		emit:        r.TriggerHook,
	}

	if err := skill.Activate(ctx); err != nil {
		r.mu.Lock()
		delete(r.skills, record.Name)
		r.mu.Unlock()
		record.Error = err.Error()
		if serr := r.store.UpsertSkill(record); serr != nil {
			r.logger.Printf("[SKILLS] failed to persist activation error for %s: %v", record.Name, serr)
		}
		return types.NewOperational(err, "skill %s failed to activate", record.Name)
	}

	now := time.Now().UTC()
	record.LoadedAt = &now
	record.Error = ""
	if err := r.store.UpsertSkill(record); err != nil {
		r.logger.Printf("[SKILLS] failed to persist skill %s: %v", record.Name, err)
	}
	r.logger.Printf("[SKILLS] registered %s v%s (%s)", record.Name, record.Version, record.Source)
	return nil
}

// Unregister deactivates and removes the named skill. Unknown names
// are a no-op.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	e, ok := r.skills[name]
	if ok {
		delete(r.skills, name)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := e.skill.Deactivate(); err != nil {
		r.logger.Printf("[SKILLS] %s deactivate failed: %v", name, err)
	}
	if err := r.store.DeleteSkill(name); err != nil {
		r.logger.Printf("[SKILLS] failed to delete skill record %s: %v", name, err)
	}
	r.logger.Printf("[SKILLS] unregistered %s", name)
	return nil
}

// Enable marks the named skill eligible for command dispatch and
// hooks. Enabling an enabled skill is a no-op.
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable removes the named skill from dispatch without unloading it.
// Disabling a disabled skill is a no-op.
func (r *Registry) Disable(name string) error {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	e, ok := r.skills[name]
	if !ok {
		r.mu.Unlock()
		return types.NewNotFound("skill %s is not registered", name)
	}
	changed := e.record.Enabled != enabled
	e.record.Enabled = enabled
	r.mu.Unlock()
	if !changed {
		return nil
	}
	if err := r.store.SetSkillEnabled(name, enabled); err != nil {
		return err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	r.logger.Printf("[SKILLS] %s %s", name, state)
	return nil
}

// Execute dispatches a declared command on an enabled skill and
// announces the invocation through the command:executed hook.
func (r *Registry) Execute(skillName, command string, args []string, options map[string]interface{}) (interface{}, error) {
	r.mu.Lock()
	e, ok := r.skills[skillName]
	if !ok {
		r.mu.Unlock()
		return nil, types.NewNotFound("skill %s is not registered", skillName)
	}
	if !e.record.Enabled {
		r.mu.Unlock()
		return nil, types.NewValidation("skill %s is disabled", skillName)
	}
	if !e.record.Manifest.HasCommand(command) {
		r.mu.Unlock()
		return nil, types.NewValidation("skill %s does not declare command %s", skillName, command)
	}
	skill := e.skill
	r.mu.Unlock()

	started := time.Now()
	result, err := skill.Execute(command, args, options)
	if err != nil {
		return nil, err
	}
	r.TriggerHook("command:executed", map[string]interface{}{
		"skill":      skillName,
		"command":    command,
		"durationMs": time.Since(started).Milliseconds(),
	})
	return result, nil
}

// TriggerHook invokes HandleHook on every enabled skill whose manifest
// subscribes to the event. Handler failures are logged and never
// propagate to the emitter.
func (r *Registry) TriggerHook(event string, data map[string]interface{}) {
	r.mu.Lock()
	var targets []*entry
	for _, e := range r.skills {
		if e.record.Enabled && e.record.Manifest.HasHook(event) {
			targets = append(targets, e)
		}
	}
	r.mu.Unlock()

	for _, e := range targets {
		r.invokeHook(e, event, data)
	}
}

func (r *Registry) invokeHook(e *entry, event string, data map[string]interface{}) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Printf("[SKILLS] hook %s panicked in %s: %v", event, e.record.Name, rec)
		}
	}()
	if err := e.skill.HandleHook(event, data); err != nil {
		r.logger.Printf("[SKILLS] hook %s failed in %s: %v", event, e.record.Name, err)
	}
}

// Get returns a copy-safe pointer to the named skill's record.
func (r *Registry) Get(name string) (*types.SkillRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.skills[name]
	if !ok {
		return nil, false
	}
	return e.record, true
}

// List returns every registered skill record sorted by name.
func (r *Registry) List() []*types.SkillRecord {
	r.mu.Lock()
	records := make([]*types.SkillRecord, 0, len(r.skills))
	for _, e := range r.skills {
		records = append(records, e.record)
	}
	r.mu.Unlock()
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}

// Shutdown deactivates every skill without deleting records, so the
// next daemon start can reload them.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.skills))
	for _, e := range r.skills {
		entries = append(entries, e)
	}
	r.skills = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		if err := e.skill.Deactivate(); err != nil {
			r.logger.Printf("[SKILLS] %s deactivate failed: %v", e.record.Name, err)
		}
	}
}
