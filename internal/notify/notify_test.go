package notify

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maxclaw/internal/types"
)

type recordedRequest struct {
	payload map[string]interface{}
	header  http.Header
}

// webhookServer replays a scripted status sequence and records every
// request it receives. Statuses past the end of the script return 200.
type webhookServer struct {
	*httptest.Server
	mu       sync.Mutex
	statuses []int
	requests []recordedRequest
}

func newWebhookServer(t *testing.T, statuses ...int) *webhookServer {
	t.Helper()
	ws := &webhookServer{statuses: statuses}
	ws.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.mu.Lock()
		defer ws.mu.Unlock()
		body, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		json.Unmarshal(body, &payload)
		ws.requests = append(ws.requests, recordedRequest{payload: payload, header: r.Header.Clone()})
		status := http.StatusOK
		if len(ws.requests) <= len(ws.statuses) {
			status = ws.statuses[len(ws.requests)-1]
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(ws.Close)
	return ws
}

func (ws *webhookServer) count() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.requests)
}

func (ws *webhookServer) request(i int) recordedRequest {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.requests[i]
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	t.Setenv("TEST_MODE", "1")
	return NewService(log.New(io.Discard, "", 0))
}

func testProject(webhook, platform, minLevel string) *types.Project {
	return &types.Project{
		ID:                   "p1",
		Name:                 "api-server",
		AbsolutePath:         "/srv/api-server",
		NotificationWebhook:  webhook,
		NotificationPlatform: platform,
		NotificationMinLevel: minLevel,
	}
}

func TestNotifyRetriesUntilSuccess(t *testing.T) {
	ws := newWebhookServer(t, http.StatusInternalServerError, http.StatusInternalServerError, http.StatusOK)
	svc := newTestService(t)

	err := svc.Notify(testProject(ws.URL, "custom", ""), types.Notification{
		Title: "deploy finished",
		Body:  "all green",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := ws.count(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestNotifyGivesUpAfterMaxAttempts(t *testing.T) {
	ws := newWebhookServer(t,
		http.StatusInternalServerError,
		http.StatusInternalServerError,
		http.StatusInternalServerError,
		http.StatusInternalServerError,
	)
	svc := newTestService(t)

	err := svc.Notify(testProject(ws.URL, "custom", ""), types.Notification{Title: "t"})
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if got := ws.count(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestNotifyShortCircuitsOnClientError(t *testing.T) {
	ws := newWebhookServer(t, http.StatusNotFound)
	svc := newTestService(t)

	err := svc.Notify(testProject(ws.URL, "custom", ""), types.Notification{Title: "t"})
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if got := ws.count(); got != 1 {
		t.Errorf("attempts = %d, want 1 (4xx must not retry)", got)
	}
}

func TestNotifyRetriesOnRateLimit(t *testing.T) {
	ws := newWebhookServer(t, http.StatusTooManyRequests)
	svc := newTestService(t)

	err := svc.Notify(testProject(ws.URL, "custom", ""), types.Notification{Title: "t"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := ws.count(); got != 2 {
		t.Errorf("attempts = %d, want 2 (429 retries)", got)
	}
}

func TestNotifyRetriesOnTransportError(t *testing.T) {
	ws := newWebhookServer(t)
	url := ws.URL
	ws.Close()
	svc := newTestService(t)

	err := svc.Notify(testProject(url, "custom", ""), types.Notification{Title: "t"})
	if err == nil {
		t.Fatal("expected delivery error against closed server")
	}
}

func TestNotifyLevelFilter(t *testing.T) {
	ws := newWebhookServer(t)
	svc := newTestService(t)
	project := testProject(ws.URL, "custom", "error")

	if err := svc.Notify(project, types.Notification{Title: "fyi", Level: types.LevelInfo}); err != nil {
		t.Fatalf("Notify info: %v", err)
	}
	if err := svc.Notify(project, types.Notification{Title: "warn", Level: types.LevelWarning}); err != nil {
		t.Fatalf("Notify warning: %v", err)
	}
	if got := ws.count(); got != 0 {
		t.Fatalf("below-threshold messages reached the webhook: %d requests", got)
	}

	if err := svc.Notify(project, types.Notification{Title: "boom", Level: types.LevelError}); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	if got := ws.count(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestNotifyDefaultsMissingLevels(t *testing.T) {
	ws := newWebhookServer(t)
	svc := newTestService(t)

	// No level on the message and no threshold on the project: info vs info.
	if err := svc.Notify(testProject(ws.URL, "custom", ""), types.Notification{Title: "t"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := ws.count(); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}
	if got := ws.request(0).payload["level"]; got != "info" {
		t.Errorf("level = %v, want info", got)
	}
}

func TestNotifySkipsProjectsWithoutWebhook(t *testing.T) {
	svc := newTestService(t)

	if err := svc.Notify(nil, types.Notification{Title: "t"}); err != nil {
		t.Errorf("nil project: %v", err)
	}
	if err := svc.Notify(testProject("", "custom", ""), types.Notification{Title: "t"}); err != nil {
		t.Errorf("empty webhook: %v", err)
	}
}

func TestNotifyRejectsUnknownPlatform(t *testing.T) {
	ws := newWebhookServer(t)
	svc := newTestService(t)

	err := svc.Notify(testProject(ws.URL, "telegraph", ""), types.Notification{Title: "t"})
	if !types.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if got := ws.count(); got != 0 {
		t.Errorf("requests = %d, want 0", got)
	}
}

func TestCustomPayloadShape(t *testing.T) {
	ws := newWebhookServer(t)
	svc := newTestService(t)

	err := svc.Notify(testProject(ws.URL, "custom", ""), types.Notification{
		Title:  "deploy finished",
		Body:   "all green",
		Level:  types.LevelWarning,
		Fields: map[string]string{"branch": "main"},
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	req := ws.request(0)
	if got := req.header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := req.header.Get("X-Notification-Level"); got != "warning" {
		t.Errorf("X-Notification-Level = %q", got)
	}
	if got := req.payload["title"]; got != "deploy finished" {
		t.Errorf("title = %v", got)
	}
	if got := req.payload["project"]; got != "api-server" {
		t.Errorf("project = %v", got)
	}
	fields, ok := req.payload["fields"].(map[string]interface{})
	if !ok || fields["branch"] != "main" {
		t.Errorf("fields = %v", req.payload["fields"])
	}
}

func TestFeishuPayloadShape(t *testing.T) {
	ws := newWebhookServer(t)
	svc := newTestService(t)

	err := svc.Notify(testProject(ws.URL, "feishu", ""), types.Notification{
		Title: "build broke",
		Body:  "tests failing on main",
		Level: types.LevelError,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	payload := ws.request(0).payload
	if got := payload["msg_type"]; got != "interactive" {
		t.Fatalf("msg_type = %v", got)
	}
	card, _ := payload["card"].(map[string]interface{})
	header, _ := card["header"].(map[string]interface{})
	if got := header["template"]; got != "red" {
		t.Errorf("header template = %v, want red for error level", got)
	}
	title, _ := header["title"].(map[string]interface{})
	if got := title["content"]; got != "build broke" {
		t.Errorf("title = %v", got)
	}
}

func TestWechatPayloadShape(t *testing.T) {
	ws := newWebhookServer(t)
	svc := newTestService(t)

	err := svc.Notify(testProject(ws.URL, "wechat", ""), types.Notification{
		Title:  "nightly report",
		Body:   "12 sessions",
		Fields: map[string]string{"failures": "0"},
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	payload := ws.request(0).payload
	if got := payload["msgtype"]; got != "markdown" {
		t.Fatalf("msgtype = %v", got)
	}
	md, _ := payload["markdown"].(map[string]interface{})
	content, _ := md["content"].(string)
	for _, want := range []string{"**nightly report**", "12 sessions", "**failures**: 0"} {
		if !strings.Contains(content, want) {
			t.Errorf("content missing %q:\n%s", want, content)
		}
	}
}

func TestSlackPayloadShape(t *testing.T) {
	ws := newWebhookServer(t)
	svc := newTestService(t)

	err := svc.Notify(testProject(ws.URL, "slack", ""), types.Notification{
		Title: "queue drained",
		Body:  "backlog empty",
		Level: types.LevelWarning,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	payload := ws.request(0).payload
	attachments, _ := payload["attachments"].([]interface{})
	if len(attachments) != 1 {
		t.Fatalf("attachments = %v", payload["attachments"])
	}
	att, _ := attachments[0].(map[string]interface{})
	if got := att["color"]; got != "warning" {
		t.Errorf("color = %v, want warning", got)
	}
	if got := att["text"]; got != "backlog empty" {
		t.Errorf("text = %v", got)
	}
}

func TestSessionSummaryComputesDuration(t *testing.T) {
	ws := newWebhookServer(t)
	svc := newTestService(t)

	started := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)
	session := &types.Session{
		ID:        "s1",
		ProjectID: "p1",
		StartedAt: started,
		EndedAt:   &ended,
		Status:    types.SessionCompleted,
		Summary:   "Refactored the config loader.",
	}

	if err := svc.SessionSummary(testProject(ws.URL, "custom", ""), session); err != nil {
		t.Fatalf("SessionSummary: %v", err)
	}

	payload := ws.request(0).payload
	fields, _ := payload["fields"].(map[string]interface{})
	if got := fields["duration"]; got != "1m 30s" {
		t.Errorf("duration = %v, want 1m 30s", got)
	}
	if got := fields["status"]; got != "completed" {
		t.Errorf("status = %v", got)
	}
	if got := payload["body"]; got != "Refactored the config loader." {
		t.Errorf("body = %v", got)
	}
}

func TestSessionSummaryRequiresSession(t *testing.T) {
	svc := newTestService(t)
	if err := svc.SessionSummary(testProject("http://unused", "custom", ""), nil); !types.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestTaskCompleted(t *testing.T) {
	ws := newWebhookServer(t)
	svc := newTestService(t)

	task := &types.TeamTask{
		ID:               "task-1",
		TeamID:           "team-1",
		Title:            "wire payment provider",
		AssigneeMemberID: "m-1",
		Status:           types.TaskCompleted,
		Result:           "merged in PR 42",
	}
	if err := svc.TaskCompleted(testProject(ws.URL, "custom", ""), "payments", task); err != nil {
		t.Fatalf("TaskCompleted: %v", err)
	}

	payload := ws.request(0).payload
	if got := payload["title"]; got != "Task completed: wire payment provider" {
		t.Errorf("title = %v", got)
	}
	fields, _ := payload["fields"].(map[string]interface{})
	if got := fields["team"]; got != "payments" {
		t.Errorf("team = %v", got)
	}
	if got := fields["assignee"]; got != "m-1" {
		t.Errorf("assignee = %v", got)
	}
	if got := payload["body"]; got != "merged in PR 42" {
		t.Errorf("body = %v", got)
	}
}

func TestErrorAlertCarriesContextAndStack(t *testing.T) {
	ws := newWebhookServer(t)
	svc := newTestService(t)

	err := svc.ErrorAlert(testProject(ws.URL, "custom", ""), "session crashed",
		io.ErrUnexpectedEOF,
		map[string]string{"session": "s9"},
		"goroutine 1 [running]:\nmain.main()",
	)
	if err != nil {
		t.Fatalf("ErrorAlert: %v", err)
	}

	payload := ws.request(0).payload
	if got := payload["level"]; got != "error" {
		t.Errorf("level = %v, want error", got)
	}
	if got := payload["body"]; got != "session crashed: unexpected EOF" {
		t.Errorf("body = %v", got)
	}
	fields, _ := payload["fields"].(map[string]interface{})
	if got := fields["session"]; got != "s9" {
		t.Errorf("session = %v", got)
	}
	if got, _ := fields["stack"].(string); !strings.Contains(got, "goroutine 1") {
		t.Errorf("stack = %v", got)
	}
}

func TestScheduleResultLevels(t *testing.T) {
	ws := newWebhookServer(t)
	svc := newTestService(t)
	// Threshold error: only failed runs get through.
	project := testProject(ws.URL, "custom", "error")

	if err := svc.ScheduleResult(project, "nightly-backup", true, "wrote snapshot"); err != nil {
		t.Fatalf("ScheduleResult success: %v", err)
	}
	if got := ws.count(); got != 0 {
		t.Fatalf("success result passed an error-only threshold: %d requests", got)
	}

	if err := svc.ScheduleResult(project, "nightly-backup", false, "disk full"); err != nil {
		t.Fatalf("ScheduleResult failure: %v", err)
	}
	if got := ws.count(); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}
	payload := ws.request(0).payload
	if got := payload["title"]; got != "Schedule failed: nightly-backup" {
		t.Errorf("title = %v", got)
	}
	if got := payload["body"]; got != "disk full" {
		t.Errorf("body = %v", got)
	}
}

