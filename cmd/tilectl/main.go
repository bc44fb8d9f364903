// Command tilectl is an interactive shell for driving tile sessions
// against a simulated fleet.
//
// It exercises the full stack (discovery cache, handshake, signed command
// channel, session orchestration) without Bluetooth hardware; real
// deployments replace the simulator with the host platform's adapters.
//
// Usage:
//
//	tilectl [flags]
//
// Flags:
//
//	-config string   Configuration file path (YAML)
//	-tiles int       Number of simulated tiles (default 3)
//	-capture string  Write CBOR protocol events to this file
//	-log-level string Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Start a shell with five simulated tiles
//	tilectl -tiles 5
//
//	# Capture protocol events for offline inspection
//	tilectl -capture /tmp/tilectl.cborlog
//
// Interactive Commands:
//
//	scan [seconds]             - Scan for tiles (cached when fresh)
//	refresh                    - Force a fresh scan
//	list                       - List known tiles
//	ring <n> [volume] [secs]   - Ring tile n from the last scan
//	volume <n> <low|medium|high> - Set tile sounder volume
//	stop <n>                   - Silence tile n
//	clear                      - Clear the discovery cache
//	quit                       - Exit
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tile-protocol/tile-go/cmd/tilectl/interactive"
	"github.com/tile-protocol/tile-go/internal/simulator"
	"github.com/tile-protocol/tile-go/pkg/log"
	"github.com/tile-protocol/tile-go/pkg/session"
)

type cliConfig struct {
	ConfigFile string
	Tiles      int
	Capture    string
	LogLevel   string
}

var config cliConfig

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.IntVar(&config.Tiles, "tiles", 3, "Number of simulated tiles")
	flag.StringVar(&config.Capture, "capture", "", "Write CBOR protocol events to this file")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		stdlog.Fatalf("tilectl: %v", err)
	}
}

func run() error {
	stdlog.SetFlags(stdlog.Ltime)

	cfg := session.DefaultConfig()
	if config.ConfigFile != "" {
		var err error
		cfg, err = session.LoadConfig(config.ConfigFile)
		if err != nil {
			return err
		}
	}

	logger, closeLogger, err := buildLogger()
	if err != nil {
		return err
	}
	defer closeLogger()

	sim := simulator.New()
	for i := 0; i < config.Tiles; i++ {
		tile := sim.AddTile(&simulator.Tile{
			Secret: []byte(fmt.Sprintf("simulated-secret-%04d", i)),
		})
		stdlog.Printf("simulated tile %s at %s", tile.UUID, tile.Address)
	}

	orch := session.New(session.Adapters{
		Scanner:   sim,
		Connector: sim,
		Secrets:   sim,
	}, cfg, logger)

	shell, err := interactive.New(orch)
	if err != nil {
		return err
	}

	// Route log output through readline so it does not mangle the prompt.
	stdlog.SetOutput(shell.Stdout())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go shell.Run(ctx, cancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		stdlog.Printf("received signal: %v", sig)
	case <-ctx.Done():
	}
	return nil
}

// buildLogger assembles the event logger: slog to stderr, plus an optional
// CBOR capture file.
func buildLogger() (log.Logger, func(), error) {
	level := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	loggers := []log.Logger{log.NewSlogAdapter(slogger)}
	closeLogger := func() {}

	if config.Capture != "" {
		fileLogger, err := log.NewFileLogger(config.Capture)
		if err != nil {
			return nil, nil, fmt.Errorf("open capture file: %w", err)
		}
		loggers = append(loggers, fileLogger)
		closeLogger = func() { _ = fileLogger.Close() }
	}

	return log.NewMultiLogger(loggers...), closeLogger, nil
}
