package cli

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxclaw/internal/daemon"
	"github.com/maxclaw/internal/instance"
	"github.com/maxclaw/internal/ipc"
	"github.com/maxclaw/internal/nats"
	"github.com/maxclaw/internal/server"
	"github.com/maxclaw/internal/stringutils"
	"github.com/maxclaw/internal/types"
)

// daemonWait bounds how long the CLI waits for a spawned daemon's
// socket to come up, and for a stopped daemon's process to exit.
const daemonWait = 10 * time.Second

var (
	startPrompt string
	startTools  string
	runHTTPAddr string
	runNoHTTP   bool
	runNATS     bool
	runNATSPort int
)

func init() {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	startCmd := &cobra.Command{
		Use:   "start PROJECT",
		Short: "Start a coding session, launching the daemon if needed",
		Args:  cobra.ExactArgs(1),
		RunE:  runStart,
	}
	startCmd.Flags().StringVar(&startPrompt, "prompt", "", "initial prompt handed to the agent")
	startCmd.Flags().StringVar(&startTools, "allowed-tools", "", "comma separated tool allowlist")
	rootCmd.AddCommand(startCmd)

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background daemon",
	}

	daemonRunCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE:  runDaemonRun,
	}
	daemonRunCmd.Flags().StringVar(&runHTTPAddr, "http", "", "dashboard listen address (default "+server.DefaultAddr+")")
	daemonRunCmd.Flags().BoolVar(&runNoHTTP, "no-http", false, "disable the dashboard API")
	daemonRunCmd.Flags().BoolVar(&runNATS, "nats", false, "mirror the message bus over an embedded NATS broker")
	daemonRunCmd.Flags().IntVar(&runNATSPort, "nats-port", 0, fmt.Sprintf("NATS listen port (default %d)", nats.DefaultPort))

	daemonStopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE:  runDaemonStop,
	}

	daemonStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE:  runStatus,
	}

	daemonCmd.AddCommand(daemonRunCmd, daemonStopCmd, daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// daemonStatus mirrors the daemon.status response.
type daemonStatus struct {
	Running              bool      `json:"running"`
	OSProcessID          int       `json:"osProcessId"`
	StartedAt            time.Time `json:"startedAt"`
	UptimeSeconds        int64     `json:"uptimeSeconds"`
	ActiveSessions       int       `json:"activeSessions"`
	TotalSessionsHandled int64     `json:"totalSessionsHandled"`
}

// sessionStartResult mirrors the session.start response.
type sessionStartResult struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := resolveEnv()
	if err != nil {
		return err
	}
	client, err := env.dial()
	if err != nil {
		fmt.Println("daemon: not running")
		if pid, perr := instance.ReadPID(env.pidPath()); perr == nil && instance.IsAlive(pid) {
			fmt.Printf("warning: pid file names live process %d but its socket is unreachable\n", pid)
		}
		return nil
	}
	defer client.Close()

	var st daemonStatus
	if err := client.Call("daemon.status", nil, &st); err != nil {
		return err
	}
	fmt.Printf("daemon: running (pid %d)\n", st.OSProcessID)
	fmt.Printf("uptime: %s\n", stringutils.FormatDuration(time.Duration(st.UptimeSeconds)*time.Second))
	fmt.Printf("active sessions: %d\n", st.ActiveSessions)
	fmt.Printf("sessions handled: %d\n", st.TotalSessionsHandled)
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	env, err := resolveEnv()
	if err != nil {
		return err
	}
	st, err := env.openStore()
	if err != nil {
		return err
	}
	project, err := st.ResolveProject(args[0])
	st.Close()
	if err != nil {
		return err
	}

	client, err := ensureDaemon(env)
	if err != nil {
		return err
	}
	defer client.Close()

	params := map[string]interface{}{
		"projectId": project.ID,
		"options": types.StartOptions{
			AllowedTools:  splitList(startTools),
			InitialPrompt: startPrompt,
		},
	}
	var res sessionStartResult
	if err := client.Call("session.start", params, &res); err != nil {
		return err
	}
	fmt.Printf("session %s %s for %s\n", shortID(res.SessionID), res.Status, project.Name)
	return nil
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(daemon.Options{
		DataDir:     dataDirFlag,
		HTTPAddr:    runHTTPAddr,
		DisableHTTP: runNoHTTP,
		NATSEnabled: runNATS,
		NATSPort:    runNATSPort,
		Logger:      log.New(os.Stderr, "", log.LstdFlags),
	})
	if err != nil {
		return err
	}
	return d.Run()
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	env, err := resolveEnv()
	if err != nil {
		return err
	}
	client, err := env.dial()
	if err != nil {
		fmt.Println("daemon: not running")
		return nil
	}
	defer client.Close()

	pid, pidErr := instance.ReadPID(env.pidPath())

	var res struct {
		Success bool `json:"success"`
	}
	if err := client.Call("daemon.stop", nil, &res); err != nil {
		return err
	}

	// The reply lands before shutdown finishes; wait for the process to
	// exit so a follow-up start does not race the dying daemon.
	if pidErr == nil {
		deadline := time.Now().Add(daemonWait)
		for time.Now().Before(deadline) && instance.IsAlive(pid) {
			time.Sleep(100 * time.Millisecond)
		}
	}
	fmt.Println("daemon stopped")
	return nil
}

// ensureDaemon returns a client for the running daemon, spawning one in
// the background when the socket is absent.
func ensureDaemon(e *env) (*ipc.Client, error) {
	if client, err := e.dial(); err == nil {
		return client, nil
	}
	if err := spawnDaemon(e); err != nil {
		return nil, err
	}
	return waitForSocket(e.socketPath(), daemonWait)
}

// spawnDaemon launches 'maxclaw daemon run' detached in its own session
// with output appended to the daemon log.
func spawnDaemon(e *env) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	args := []string{"daemon", "run"}
	if dataDirFlag != "" {
		args = append(args, "--data-dir", dataDirFlag)
	}

	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	logDir := filepath.Join(e.root, daemon.LogsDir)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "daemon.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	cmd.Stdout = f
	cmd.Stderr = f

	if err := cmd.Start(); err != nil {
		return types.NewOperational(err, "spawn daemon")
	}
	return cmd.Process.Release()
}

func waitForSocket(path string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client, err := ipc.Dial(path); err == nil {
			return client, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, types.NewOperational(nil, "daemon did not come up within %s; see %s", timeout, filepath.Join(daemon.LogsDir, "daemon.log"))
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
