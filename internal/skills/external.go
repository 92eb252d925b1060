package skills

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/maxclaw/internal/types"
)

// externalTimeout caps a single external skill invocation.
const externalTimeout = 60 * time.Second

// ExternalSkill drives a skill that lives outside the binary. Commands
// and hooks are forwarded to the manifest's entry executable:
//
//	entry <command> [args...]            for Execute
//	entry hook <event>                   for HandleHook
//
// Options and hook payloads travel as JSON in MAXCLAW_SKILL_OPTIONS
// and MAXCLAW_HOOK_DATA. Stdout is the result.
type ExternalSkill struct {
	manifest *types.SkillManifest
	dir      string
	entry    string
	ctx      *Context
}

func NewExternalSkill(manifest *types.SkillManifest, dir string) *ExternalSkill {
	return &ExternalSkill{manifest: manifest, dir: dir}
}

// Activate verifies the entry point exists before the skill is
// considered live.
func (s *ExternalSkill) Activate(ctx *Context) error {
	entry, err := resolveEntry(s.dir, s.manifest.Entry)
	if err != nil {
		return err
	}
	s.entry = entry
	s.ctx = ctx
	return nil
}

func (s *ExternalSkill) Deactivate() error {
	s.ctx = nil
	return nil
}

func (s *ExternalSkill) Execute(command string, args []string, options map[string]interface{}) (interface{}, error) {
	argv := append([]string{command}, args...)
	env := make([]string, 0, 1)
	if len(options) > 0 {
		encoded, err := json.Marshal(options)
		if err != nil {
			return nil, types.NewValidation("encoding options: %v", err)
		}
		env = append(env, "MAXCLAW_SKILL_OPTIONS="+string(encoded))
	}
	out, err := s.run(argv, env)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ExternalSkill) HandleHook(event string, data map[string]interface{}) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding hook data: %w", err)
	}
	_, err = s.run([]string{"hook", event}, []string{"MAXCLAW_HOOK_DATA=" + string(encoded)})
	return err
}

func (s *ExternalSkill) run(argv, extraEnv []string) (string, error) {
	cmd := exec.Command(s.entry, argv...)
	cmd.Dir = s.dir
	cmd.Env = append(cmd.Environ(), extraEnv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", types.NewOperational(err, "starting skill entry %s", s.entry)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			return "", types.NewOperational(err, "skill entry failed: %s", msg)
		}
		return strings.TrimSpace(stdout.String()), nil
	case <-time.After(externalTimeout):
		_ = cmd.Process.Kill()
		<-done
		return "", types.NewOperational(nil, "skill entry %s timed out after %s", s.entry, externalTimeout)
	}
}
