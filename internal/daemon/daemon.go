// Package daemon assembles and runs the orchestrator: one process that owns
// the store, the session pool, the cron engine, the agent runtime, the skill
// host, and every adapter (IPC socket, HTTP dashboard, NATS bridge).
package daemon

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/maxclaw/internal/agents"
	"github.com/maxclaw/internal/bus"
	"github.com/maxclaw/internal/config"
	"github.com/maxclaw/internal/cron"
	"github.com/maxclaw/internal/instance"
	"github.com/maxclaw/internal/ipc"
	"github.com/maxclaw/internal/metrics"
	"github.com/maxclaw/internal/nats"
	"github.com/maxclaw/internal/notify"
	"github.com/maxclaw/internal/search"
	"github.com/maxclaw/internal/server"
	"github.com/maxclaw/internal/session"
	"github.com/maxclaw/internal/skills"
	"github.com/maxclaw/internal/store"
	"github.com/maxclaw/internal/team"
	"github.com/maxclaw/internal/types"
)

// shutdownGrace bounds how long HTTP connections get to drain on stop.
const shutdownGrace = 5 * time.Second

// Well-known file names under the data directory.
const (
	DBFile     = "data.db"
	ConfigFile = "config.yaml"
	PIDFile    = "daemon.pid"
	SocketFile = "daemon.sock"
	SkillsDir  = "skills"
	LogsDir    = "logs"
)

// SocketPath returns the IPC socket location for a data directory.
func SocketPath(dataDir string) string { return filepath.Join(dataDir, SocketFile) }

// PIDPath returns the PID file location for a data directory.
func PIDPath(dataDir string) string { return filepath.Join(dataDir, PIDFile) }

// Options configure a daemon. The zero value runs with the default data
// directory, the dashboard on its default port, and the NATS bridge off.
type Options struct {
	// DataDir overrides the data directory ($HOME/.maxclaw by default,
	// or the config file's dataDir key).
	DataDir string
	// ConfigPath overrides the config file location (DataDir/config.yaml).
	ConfigPath string

	// HTTPAddr is the dashboard bind address; empty selects the default.
	HTTPAddr string
	// DisableHTTP turns the dashboard adapter off.
	DisableHTTP bool

	// NATSEnabled starts the embedded broker bridge.
	NATSEnabled bool
	// NATSPort is the broker port; 0 selects the default.
	NATSPort int

	// SweepInterval tunes the cron check period; 0 keeps the default.
	SweepInterval time.Duration
	// HeartbeatInterval tunes the agent staleness sweep; 0 keeps the default.
	HeartbeatInterval time.Duration

	// Spawner replaces the exec spawner, for tests.
	Spawner session.Spawner

	Logger *log.Logger
}

// Daemon is the running orchestrator.
type Daemon struct {
	logger     *log.Logger
	root       string
	configPath string

	cfgMu sync.Mutex
	cfg   *config.Config

	store    *store.Store
	bus      *bus.Bus
	metrics  *metrics.Collector
	runtime  *agents.Runtime
	pool     *session.Pool
	sessions *session.Manager
	notifier *notify.Service
	cron     *cron.Engine
	skills   *skills.Registry
	teams    *team.Manager
	search   *search.Engine
	instance *instance.Manager
	ipc      *ipc.Server
	http     *server.Server
	bridge   *nats.Bridge
	watcher  *config.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	startedAt time.Time
	stopOnce  sync.Once
	done      chan struct{}
}

// New wires every subsystem but starts nothing. The data directory is
// created if missing.
func New(opts Options) (*Daemon, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	root := opts.DataDir
	if root == "" {
		root = (&config.Config{}).DataRoot()
	}
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(root, ConfigFile)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if opts.DataDir == "" && cfg.DataDir != "" {
		root = cfg.DataRoot()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, err
	}

	st, err := store.Open(filepath.Join(root, DBFile), logger)
	if err != nil {
		return nil, err
	}

	b := bus.New(logger)
	collector := metrics.NewCollector()
	collector.Observe(b)

	queue := session.NewQueue(0, 0)
	pool := session.NewPool(session.PoolConfig{
		MaxGlobalConcurrent:  cfg.Multiplex.MaxSessions,
		MaxPerProject:        cfg.Multiplex.MaxSessionsPerProject,
		SessionTimeoutMillis: cfg.DefaultOptions.Timeout,
		QueueEnabled:         true,
	}, queue, b, logger)

	spawner := opts.Spawner
	if spawner == nil {
		spawner = session.NewExecSpawner(filepath.Join(root, LogsDir), logger)
	}
	sessions := session.NewManager(st, pool, queue, spawner, b, logger)

	notifier := notify.NewService(logger)
	registry := skills.NewRegistry(st, logger)

	engine := cron.NewEngine(st, notifier, opts.SweepInterval, logger)
	engine.Bind(types.TaskReminder, &cron.ReminderExecutor{Logger: logger})
	engine.Bind(types.TaskBackup, &cron.BackupExecutor{DataDir: root})
	engine.Bind(types.TaskCommand, cron.CommandExecutor{})
	engine.Bind(types.TaskSkill, &cron.SkillExecutor{Runner: registry})
	// github-sync stays unbound; schedules of that kind fail their runs
	// with "no executor" until an integration lands.

	d := &Daemon{
		logger:     logger,
		root:       root,
		configPath: configPath,
		cfg:        cfg,
		store:      st,
		bus:        b,
		metrics:    collector,
		runtime:    agents.NewRuntime(b, opts.HeartbeatInterval, logger),
		pool:       pool,
		sessions:   sessions,
		notifier:   notifier,
		cron:       engine,
		skills:     registry,
		teams:      team.NewManager(st, b, logger),
		search:     search.NewEngine(st, 0, logger),
		instance:   instance.NewManager(filepath.Join(root, PIDFile), logger),
		ipc:        ipc.NewServer(filepath.Join(root, SocketFile), logger),
		done:       make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.registerRPC()

	if !opts.DisableHTTP {
		d.http = server.New(opts.HTTPAddr, server.Deps{
			Store:    st,
			Sessions: sessions,
			Teams:    d.teams,
			Search:   d.search,
			Metrics:  collector,
			Bus:      b,
			Status:   func() interface{} { return d.statusDocument() },
			Logger:   logger,
		})
	}
	if opts.NATSEnabled {
		d.bridge = nats.NewBridge(b, opts.NATSPort, logger)
	}
	return d, nil
}

// DataDir returns the resolved data directory.
func (d *Daemon) DataDir() string { return d.root }

// Start brings the daemon up: singleton lock, IPC socket, session
// recovery, cron, heartbeat, PID file, then the optional adapters.
// A second running daemon fails here with AlreadyRunning.
func (d *Daemon) Start() error {
	if err := d.instance.Acquire(); err != nil {
		return err
	}
	if err := d.ipc.Start(); err != nil {
		d.instance.Release()
		return err
	}

	if err := d.sessions.Recover(); err != nil {
		d.logger.Printf("[DAEMON] Session recovery: %v", err)
	}

	if n, err := d.skills.LoadDir(filepath.Join(d.root, SkillsDir)); err != nil {
		d.logger.Printf("[DAEMON] Skill load: %v", err)
	} else if n > 0 {
		d.logger.Printf("[DAEMON] Loaded %d skills", n)
	}

	if os.Getenv("MAXCLAW_SCHEDULER_AUTOSTART") == "false" {
		d.logger.Printf("[DAEMON] Scheduler autostart disabled")
	} else {
		d.cron.Start(d.ctx)
	}
	go d.runtime.StartHeartbeatMonitor(d.ctx)

	if err := d.instance.WritePID(); err != nil {
		d.Stop()
		return err
	}

	if d.http != nil {
		if err := d.http.Start(); err != nil {
			d.logger.Printf("[DAEMON] Dashboard failed to start: %v", err)
			d.http = nil
		}
	}
	if d.bridge != nil {
		if err := d.bridge.Start(); err != nil {
			d.logger.Printf("[DAEMON] NATS bridge failed to start: %v", err)
			d.bridge = nil
		}
	}

	watcher, err := config.NewWatcher(d.configPath, d.applyConfig, d.logger)
	if err != nil {
		d.logger.Printf("[DAEMON] Config watch unavailable: %v", err)
	} else {
		d.watcher = watcher
	}

	d.startedAt = time.Now()
	d.logger.Printf("[DAEMON] Started (pid %d, data %s)", os.Getpid(), d.root)
	return nil
}

// applyConfig folds a reloaded config into the running daemon. Session
// limits retune immediately; scan paths take effect on the next discovery.
func (d *Daemon) applyConfig(cfg *config.Config) {
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()
	d.pool.SetLimits(cfg.Multiplex.MaxSessions, cfg.Multiplex.MaxSessionsPerProject)
	d.logger.Printf("[DAEMON] Config applied (maxSessions %d, perProject %d, %d scan paths)",
		cfg.Multiplex.MaxSessions, cfg.Multiplex.MaxSessionsPerProject, len(cfg.ScanPaths))
}

// Config returns the current configuration snapshot.
func (d *Daemon) Config() *config.Config {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	return d.cfg
}

// Stop tears the daemon down in reverse start order: no new IPC work,
// cron drained, owned sessions terminated, runtime and skills shut down,
// adapters closed, PID released. Idempotent.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		d.logger.Printf("[DAEMON] Stopping")
		if d.watcher != nil {
			d.watcher.Close()
		}
		d.ipc.Stop()
		d.cron.Stop()
		d.sessions.StopAll()
		d.cancel()
		d.runtime.Shutdown()
		d.skills.Shutdown()
		if d.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			if err := d.http.Shutdown(ctx); err != nil {
				d.logger.Printf("[DAEMON] Dashboard shutdown: %v", err)
			}
			cancel()
		}
		if d.bridge != nil {
			d.bridge.Stop()
		}
		if err := d.store.Close(); err != nil {
			d.logger.Printf("[DAEMON] Store close: %v", err)
		}
		d.instance.Release()
		d.logger.Printf("[DAEMON] Stopped")
		close(d.done)
	})
}

// Run starts the daemon and blocks until a termination signal or a
// daemon.stop request arrives.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		d.logger.Printf("[DAEMON] Received %s", sig)
		d.Stop()
	case <-d.done:
	}
	return nil
}
