// Package cli implements the maxclaw command line interface. Project
// commands read and write the store directly so they work whether or
// not the daemon is up; session and daemon commands go through the
// daemon's unix socket.
package cli

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/maxclaw/internal/config"
	"github.com/maxclaw/internal/daemon"
	"github.com/maxclaw/internal/ipc"
	"github.com/maxclaw/internal/store"
)

var rootCmd = &cobra.Command{
	Use:          "maxclaw",
	Short:        "Orchestrate AI coding sessions across local projects",
	SilenceUsage: true,
}

var dataDirFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "data directory (default $HOME/.maxclaw)")
}

// Execute runs the CLI and returns the process exit code. Cobra already
// prints the failing command's error to stderr.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// env is the filesystem layout resolved for one command invocation.
// The --data-dir flag wins, then the dataDir key in config.yaml, then
// $HOME/.maxclaw. config.yaml always sits beside the flag-or-default
// root so a relocated data dir can still be found from it.
type env struct {
	root       string
	configPath string
	cfg        *config.Config
}

func resolveEnv() (*env, error) {
	base := dataDirFlag
	if base == "" {
		base = (&config.Config{}).DataRoot()
	}
	configPath := filepath.Join(base, daemon.ConfigFile)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	root := base
	if dataDirFlag == "" && cfg.DataDir != "" {
		root = cfg.DataRoot()
	}
	return &env{root: root, configPath: configPath, cfg: cfg}, nil
}

// openStore opens the daemon's database for direct access. Store
// chatter is discarded so command output stays clean.
func (e *env) openStore() (*store.Store, error) {
	if err := os.MkdirAll(e.root, 0o700); err != nil {
		return nil, err
	}
	return store.Open(filepath.Join(e.root, daemon.DBFile), quietLogger())
}

func (e *env) socketPath() string { return daemon.SocketPath(e.root) }

func (e *env) pidPath() string { return daemon.PIDPath(e.root) }

func (e *env) dial() (*ipc.Client, error) { return ipc.Dial(e.socketPath()) }

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// shortID trims a uuid to its first group for table output.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
