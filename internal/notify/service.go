// Package notify delivers webhook notifications for project events. Each
// project carries its own webhook URL, platform tag, and minimum level;
// messages below the threshold are dropped before any network traffic.
package notify

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/maxclaw/internal/stringutils"
	"github.com/maxclaw/internal/types"
)

const (
	// maxAttempts bounds delivery: a message is posted at most this many
	// times before the call reports failure.
	maxAttempts = 3

	defaultBackoffBase = 1000 * time.Millisecond
	testBackoffBase    = 10 * time.Millisecond

	maxBodyRunes = 2000
)

// Service posts platform-shaped webhook payloads with retry. Safe for
// concurrent use.
type Service struct {
	client *http.Client
	logger *log.Logger
	base   time.Duration
}

// NewService builds a notifier. Backoff shrinks to 10ms when TEST_MODE is
// set so retry paths stay fast under test.
func NewService(logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	base := defaultBackoffBase
	if os.Getenv("TEST_MODE") != "" {
		base = testBackoffBase
	}
	return &Service{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		base:   base,
	}
}

// Notify delivers a generic notification to the project's webhook. Projects
// without a webhook, and messages below the project's minimum level, are
// dropped without error.
func (s *Service) Notify(project *types.Project, n types.Notification) error {
	if project == nil || stringutils.IsEmpty(project.NotificationWebhook) {
		return nil
	}
	if n.Level == "" {
		n.Level = types.LevelInfo
	}
	min := types.NotificationLevel(project.NotificationMinLevel)
	if min == "" {
		min = types.LevelInfo
	}
	if !n.Level.AtLeast(min) {
		s.logger.Printf("[NOTIFY] Dropped %q for %s (level %s below %s)", n.Title, project.Name, n.Level, min)
		return nil
	}
	if n.Project == "" {
		n.Project = project.Name
	}
	n.Body = stringutils.Truncate(n.Body, maxBodyRunes)

	platform := types.NotificationPlatform(project.NotificationPlatform)
	if platform == "" {
		platform = types.PlatformCustom
	}
	body, headers, err := buildPayload(platform, n)
	if err != nil {
		return err
	}
	if err := s.deliver(project.NotificationWebhook, body, headers); err != nil {
		return err
	}
	s.logger.Printf("[NOTIFY] Delivered %q to %s (%s)", n.Title, project.Name, platform)
	return nil
}

// SessionSummary announces a finished session, with the elapsed time
// computed from the session's start and end stamps.
func (s *Service) SessionSummary(project *types.Project, session *types.Session) error {
	if session == nil {
		return types.NewValidation("session summary requires a session")
	}
	end := time.Now()
	if session.EndedAt != nil {
		end = *session.EndedAt
	}
	body := session.Summary
	if stringutils.IsEmpty(body) {
		body = "Session finished without a summary."
	}
	return s.Notify(project, types.Notification{
		Title: fmt.Sprintf("Session complete: %s", projectName(project)),
		Body:  body,
		Level: types.LevelInfo,
		Fields: map[string]string{
			"session":  session.ID,
			"status":   string(session.Status),
			"duration": stringutils.FormatDuration(end.Sub(session.StartedAt)),
		},
	})
}

// TaskCompleted announces a finished team task.
func (s *Service) TaskCompleted(project *types.Project, teamName string, task *types.TeamTask) error {
	if task == nil {
		return types.NewValidation("task notification requires a task")
	}
	fields := map[string]string{
		"team": teamName,
		"task": task.ID,
	}
	if task.AssigneeMemberID != "" {
		fields["assignee"] = task.AssigneeMemberID
	}
	body := task.Result
	if stringutils.IsEmpty(body) {
		body = task.Description
	}
	return s.Notify(project, types.Notification{
		Title:  fmt.Sprintf("Task completed: %s", task.Title),
		Body:   body,
		Level:  types.LevelInfo,
		Fields: fields,
	})
}

// ErrorAlert raises an error-level message with optional context pairs and
// a stack trace.
func (s *Service) ErrorAlert(project *types.Project, subject string, cause error, context map[string]string, stack string) error {
	body := subject
	if cause != nil {
		body = fmt.Sprintf("%s: %v", subject, cause)
	}
	fields := make(map[string]string, len(context)+1)
	for k, v := range context {
		fields[k] = v
	}
	if stack != "" {
		fields["stack"] = stringutils.Truncate(stack, 1000)
	}
	return s.Notify(project, types.Notification{
		Title:  fmt.Sprintf("Error: %s", projectName(project)),
		Body:   body,
		Level:  types.LevelError,
		Fields: fields,
	})
}

// ScheduleResult reports a finished scheduled run. Failures go out at error
// level so they pass stricter project thresholds.
func (s *Service) ScheduleResult(project *types.Project, scheduleName string, success bool, detail string) error {
	level := types.LevelInfo
	title := fmt.Sprintf("Schedule succeeded: %s", scheduleName)
	if !success {
		level = types.LevelError
		title = fmt.Sprintf("Schedule failed: %s", scheduleName)
	}
	if stringutils.IsEmpty(detail) {
		detail = "(no output)"
	}
	return s.Notify(project, types.Notification{
		Title:  title,
		Body:   detail,
		Level:  level,
		Fields: map[string]string{"schedule": scheduleName},
	})
}

// deliver posts the payload, retrying on transport errors, 5xx, and 429
// with linear backoff. Other statuses short-circuit.
func (s *Service) deliver(url string, body []byte, headers map[string]string) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(s.base * time.Duration(attempt-1))
		}
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return types.NewValidation("bad webhook URL %q: %v", url, err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			s.logger.Printf("[NOTIFY] Attempt %d/%d failed: %v", attempt, maxAttempts, err)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if !retryableStatus(resp.StatusCode) {
			return types.NewOperational(nil, "webhook returned status %d", resp.StatusCode)
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
		s.logger.Printf("[NOTIFY] Attempt %d/%d failed: %v", attempt, maxAttempts, lastErr)
	}
	return types.NewOperational(lastErr, "webhook delivery failed after %d attempts", maxAttempts)
}

// retryableStatus reports whether another attempt could succeed: server
// errors and rate limiting retry, other client errors do not.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

func projectName(project *types.Project) string {
	if project == nil {
		return "unknown project"
	}
	return project.Name
}
