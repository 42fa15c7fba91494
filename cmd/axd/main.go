// main.go — Entry point for axd, the accessibility-tree daemon. Constructs
// the logger and config, builds the Daemon, registers the concrete host
// transports, and runs until a termination signal or an unrecoverable
// listener failure. Grounded on the teacher's cmd/dev-console signal-driven
// shutdown select (main_connection_mcp.go), adapted from its HTTP-listener
// liveness check to this daemon's socket/remote-server pair.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/axbridge/axd/internal/bridge"
	"github.com/axbridge/axd/internal/config"
	"github.com/axbridge/axd/internal/daemon"
	"github.com/axbridge/axd/internal/hostax"
	"github.com/axbridge/axd/internal/state"
	"github.com/axbridge/axd/internal/transport"
)

// version is set at build time via -ldflags.
var version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("axd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.json (default: $HOME/.cua/config.json)")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("axd %s\n", version)
		return 0
	}

	log := newLogger(*logLevel)

	path := *configPath
	if path == "" {
		p, err := state.ConfigFile()
		if err != nil {
			log.Error().Err(err).Msg("axd: resolve config path")
			return 1
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("axd: load config")
		return 1
	}

	d, err := daemon.New(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("axd: construct daemon")
		return 1
	}
	registerTransports(d, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		s := <-sigCh
		log.Info().Str("signal", s.String()).Msg("axd: shutdown signal received")
		cancel()
	}()

	startErr := make(chan error, 1)
	go func() { startErr <- d.Start(ctx) }()

	if cfg.Remote.Enabled {
		go confirmRemoteUp(cfg.Remote.Port, log)
	}

	select {
	case err := <-startErr:
		if err == daemon.ErrAlreadyRunning {
			log.Error().Msg("axd: another instance is already running")
			return 1
		}
		if err != nil {
			log.Error().Err(err).Msg("axd: daemon exited with error")
			return 1
		}
		return 0
	case <-ctx.Done():
		// Start's own ctx.Done branch drives shutdown; wait for it to finish.
		if err := <-startErr; err != nil && err != daemon.ErrAlreadyRunning {
			log.Error().Err(err).Msg("axd: error during shutdown")
			return 1
		}
		return 0
	}
}

// registerTransports wires the concrete host adapters onto the router in
// router-preference order: AX first (handles everything), CDP for
// Chromium-backed apps, host-script last as the catch-all scripting path.
func registerTransports(d *daemon.Daemon, cfg config.Config) {
	ax := transport.NewAXTransport(hostax.NewStub(), d.RefResolver())
	if cfg.Transports.AXMaxDepth > 0 {
		ax.SetMaxDepth(cfg.Transports.AXMaxDepth)
	}
	d.Router.Register(ax)

	d.Router.Register(transport.NewCDPTransport(transport.CDPConfig{
		Port:             cfg.Transports.CDPPort,
		AllowedBundleIDs: cfg.Transports.CDPAllowedBundleIDs,
		AllowedNames:     cfg.Transports.CDPAllowedNames,
	}))

	interpreter := cfg.Transports.ScriptInterpreter
	if interpreter == "" {
		interpreter = "osascript"
	}
	args := cfg.Transports.ScriptArgs
	if len(args) == 0 {
		args = []string{"-e"}
	}
	d.Router.Register(transport.NewScriptTransport(interpreter, args))
}

// confirmRemoteUp polls the remote server's /healthz until it answers or the
// wait times out, logging whichever happens first. It never blocks startup;
// it only confirms the listener the daemon just spawned is actually
// reachable, the way cmd/gasoline-cmd's launcher confirms its server before
// handing control to a client.
func confirmRemoteUp(port int, log zerolog.Logger) {
	if bridge.WaitForServer(port, 5*time.Second) {
		log.Info().Int("port", port).Msg("axd: remote server is up")
		return
	}
	log.Warn().Int("port", port).Msg("axd: remote server did not answer /healthz within the startup window")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).
		Level(lvl).
		With().
		Timestamp().
		Str("component", "axd").
		Logger().
		Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
