package daemon

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/maxclaw/internal/ipc"
	"github.com/maxclaw/internal/metrics"
	"github.com/maxclaw/internal/types"
)

// stopReplyGrace gives the daemon.stop response time to reach the client
// before the socket closes underneath it.
const stopReplyGrace = 100 * time.Millisecond

type startParams struct {
	ProjectID string             `json:"projectId"`
	Options   types.StartOptions `json:"options"`
}

type sessionIDParams struct {
	SessionID string `json:"sessionId"`
}

type resumeParams struct {
	ProjectID string             `json:"projectId,omitempty"`
	Options   types.StartOptions `json:"options"`
}

type startResult struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type sessionStatusResult struct {
	SessionID   string              `json:"sessionId"`
	ProjectID   string              `json:"projectId"`
	Status      types.SessionStatus `json:"status"`
	OSProcessID int                 `json:"osProcessId,omitempty"`
}

type successResult struct {
	Success bool `json:"success"`
}

// statusDocument is the daemon.status payload, also served on /api/status.
type statusDocument struct {
	Running              bool      `json:"running"`
	OSProcessID          int       `json:"osProcessId"`
	StartedAt            time.Time `json:"startedAt"`
	UptimeSeconds        int64     `json:"uptimeSeconds"`
	ActiveSessions       int       `json:"activeSessions"`
	TotalSessionsHandled int64     `json:"totalSessionsHandled"`
}

func (d *Daemon) statusDocument() statusDocument {
	return statusDocument{
		Running:              true,
		OSProcessID:          os.Getpid(),
		StartedAt:            d.startedAt,
		UptimeSeconds:        int64(time.Since(d.startedAt).Seconds()),
		ActiveSessions:       d.pool.Count(),
		TotalSessionsHandled: d.metrics.Counter(metrics.CounterSessionsStarted),
	}
}

// registerRPC binds every socket method. Handlers return domain errors
// as-is; the IPC layer carries their message at the handler-error code.
func (d *Daemon) registerRPC() {
	d.ipc.Handle("session.start", d.counted(d.rpcSessionStart))
	d.ipc.Handle("session.stop", d.counted(d.rpcSessionStop))
	d.ipc.Handle("session.status", d.counted(d.rpcSessionStatus))
	d.ipc.Handle("session.list", d.counted(d.rpcSessionList))
	d.ipc.Handle("session.resume", d.counted(d.rpcSessionResume))
	d.ipc.Handle("daemon.status", d.counted(d.rpcDaemonStatus))
	d.ipc.Handle("daemon.stop", d.counted(d.rpcDaemonStop))
}

// counted wraps a handler with the RPC request counter.
func (d *Daemon) counted(h ipc.Handler) ipc.Handler {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		d.metrics.Inc(metrics.CounterRPCRequests)
		return h(ctx, params)
	}
}

func (d *Daemon) rpcSessionStart(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p startParams
	if err := ipc.DecodeParams(params, &p); err != nil {
		return nil, ipc.InvalidParams(err)
	}
	if p.ProjectID == "" {
		return nil, types.NewValidation("projectId is required")
	}
	sess, err := d.sessions.Start(p.ProjectID, p.Options)
	if err != nil {
		return nil, err
	}
	return startResult{SessionID: sess.ID, Status: "started"}, nil
}

func (d *Daemon) rpcSessionStop(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p sessionIDParams
	if err := ipc.DecodeParams(params, &p); err != nil {
		return nil, ipc.InvalidParams(err)
	}
	if p.SessionID == "" {
		return nil, types.NewValidation("sessionId is required")
	}
	if err := d.sessions.Stop(p.SessionID); err != nil {
		return nil, err
	}
	return successResult{Success: true}, nil
}

func (d *Daemon) rpcSessionStatus(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p sessionIDParams
	if err := ipc.DecodeParams(params, &p); err != nil {
		return nil, ipc.InvalidParams(err)
	}
	if p.SessionID == "" {
		return nil, types.NewValidation("sessionId is required")
	}
	sess, err := d.sessions.Status(p.SessionID)
	if err != nil {
		return nil, err
	}
	return sessionStatusResult{
		SessionID:   sess.ID,
		ProjectID:   sess.ProjectID,
		Status:      sess.Status,
		OSProcessID: sess.OSProcessID,
	}, nil
}

func (d *Daemon) rpcSessionList(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return d.sessions.List(), nil
}

func (d *Daemon) rpcSessionResume(_ context.Context, params json.RawMessage) (interface{}, error) {
	var p resumeParams
	if err := ipc.DecodeParams(params, &p); err != nil {
		return nil, ipc.InvalidParams(err)
	}
	sess, err := d.sessions.Resume(p.ProjectID, p.Options)
	if err != nil {
		return nil, err
	}
	return startResult{SessionID: sess.ID, Status: "started"}, nil
}

func (d *Daemon) rpcDaemonStatus(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return d.statusDocument(), nil
}

// rpcDaemonStop acknowledges first and stops out of band: Stop waits on
// in-flight handlers, so stopping inline would deadlock on this very call.
func (d *Daemon) rpcDaemonStop(_ context.Context, _ json.RawMessage) (interface{}, error) {
	go func() {
		time.Sleep(stopReplyGrace)
		d.Stop()
	}()
	return successResult{Success: true}, nil
}
