// Package nats runs an optional loopback NATS broker and republishes
// bus traffic on it so external tooling can tail daemon events.
package nats

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// DefaultPort is where the embedded broker listens when enabled.
const DefaultPort = 24222

// readyTimeout bounds how long Start waits for the broker to accept
// connections.
const readyTimeout = 10 * time.Second

// EmbeddedServer wraps a loopback-only NATS server. Port -1 asks the
// broker for a random free port, which tests rely on.
type EmbeddedServer struct {
	port   int
	logger *log.Logger

	mu      sync.RWMutex
	server  *server.Server
	running bool
}

func NewEmbeddedServer(port int, logger *log.Logger) *EmbeddedServer {
	if port == 0 {
		port = DefaultPort
	}
	return &EmbeddedServer{port: port, logger: logger}
}

// Start boots the broker and blocks until it accepts connections.
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("embedded nats server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.port,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("creating nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return fmt.Errorf("nats server not ready after %s", readyTimeout)
	}

	e.server = ns
	e.running = true
	e.logger.Printf("[NATS] broker listening on %s", ns.ClientURL())
	return nil
}

// Shutdown stops the broker and waits for it to wind down. Safe to
// call when never started.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.server == nil {
		return
	}
	e.server.Shutdown()
	e.server.WaitForShutdown()
	e.running = false
	e.server = nil
	e.logger.Printf("[NATS] broker stopped")
}

// URL returns the client connection URL. Once running this is the
// broker's actual address, which matters when a random port was
// requested.
func (e *EmbeddedServer) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.running && e.server != nil {
		return e.server.ClientURL()
	}
	return fmt.Sprintf("nats://127.0.0.1:%d", e.port)
}

// IsRunning reports whether the broker is up.
func (e *EmbeddedServer) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
