package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/p-sw/vibecord/internal/codex"
	"github.com/p-sw/vibecord/internal/config"
	"github.com/p-sw/vibecord/internal/logging"
	"github.com/p-sw/vibecord/internal/relay"
	"github.com/p-sw/vibecord/internal/session"
	"github.com/p-sw/vibecord/internal/statedb"
)

const Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "config file (default ~/.vibecord/config.toml)")
	flag.Usage = usage
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "run"
	}

	var err error
	switch cmd {
	case "run":
		err = runDaemon(*configPath)
	case "setup":
		err = runSetup(*configPath)
	case "sessions":
		err = runSessions(*configPath)
	case "version":
		fmt.Println("vibecord " + Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `vibecord — Discord relay for the codex CLI

Usage:
  vibecord [flags] [command]

Commands:
  run        Start the relay daemon (default)
  setup      Write a starter config file
  sessions   List stored sessions
  version    Print the version

Flags:
  -config path   Config file (default ~/.vibecord/config.toml)
`)
}

// runDaemon wires store, database, bridge and relay together and runs
// until SIGINT/SIGTERM.
func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	token := cfg.Token()
	if token == "" {
		return fmt.Errorf("no bot token: set %s (see 'vibecord setup')", cfg.Discord.TokenEnv)
	}

	logging.Init(logging.Config{
		LogDir:     cfg.Logs.Dir,
		Level:      cfg.Logs.Level,
		Format:     cfg.Logs.Format,
		MaxSizeMB:  cfg.Logs.MaxSizeMB,
		MaxBackups: cfg.Logs.MaxBackups,
		MaxAgeDays: cfg.Logs.MaxAgeDays,
	})
	defer logging.Shutdown()
	log := logging.ForComponent(logging.CompMain)

	defer func() {
		if r := recover(); r != nil {
			dump := filepath.Join(cfg.Logs.Dir, "vibecord-panic.log")
			_ = logging.DumpRingBuffer(dump)
			panic(r)
		}
	}()

	store, err := session.NewStore(cfg.Store.Dir)
	if err != nil {
		return err
	}

	db, err := statedb.Open(filepath.Join(cfg.Store.Dir, "vibecord.db"))
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	bridge := codex.New(store,
		codex.WithBinary(cfg.Codex.Binary),
		codex.WithExtraArgs(cfg.Codex.ExtraArgs),
		codex.WithLogTail(codex.NewSessionLogTail(cfg.Codex.SessionLogDir)),
		codex.WithTimeouts(codex.Timeouts{
			Status:  time.Duration(cfg.Codex.StatusTimeoutSecs) * time.Second,
			Compact: time.Duration(cfg.Codex.CompactTimeoutSecs) * time.Second,
			Default: time.Duration(cfg.Codex.DefaultTimeoutSecs) * time.Second,
		}),
	)

	r, err := relay.New(token, store, bridge, db, cfg.Discord)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Start(ctx) })
	g.Go(func() error { return watchStore(ctx, store, log) })

	log.Info("vibecord started", "version", Version, "store", cfg.Store.Dir)
	return g.Wait()
}

// watchStore logs external session-store changes (e.g. records edited or
// removed by hand) so operators can correlate them with relay behavior.
func watchStore(ctx context.Context, store *session.Store, log *slog.Logger) error {
	w, err := session.NewWatcher(store)
	if err != nil {
		return err
	}
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.Changes():
			log.Info("session store changed on disk")
		}
	}
}

func runSetup(configPath string) error {
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	if err := config.WriteSkeleton(configPath); err != nil {
		return err
	}
	fmt.Println("wrote", configPath)
	fmt.Println("set your bot token in the environment variable named by token_env, then run 'vibecord run'")
	return nil
}

func runSessions(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := session.NewStore(cfg.Store.Dir)
	if err != nil {
		return err
	}
	recs, err := store.List("")
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, rec := range recs {
		thread := rec.ThreadID
		if thread == "" {
			thread = "-"
		}
		fmt.Printf("%-10s %-24s thread=%-38s %s\n", rec.ID[:8], rec.Title, thread, rec.ProjectPath)
	}
	return nil
}
