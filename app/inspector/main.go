// Command inspector serves a reconstructed spectrometer capture over HTTP
// for scripted or graphical inspection. The capture is analyzed once at
// startup; with --watch the file is monitored and the whole session is
// rebuilt and swapped wholesale whenever the export changes.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/urfave/cli/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/WasatchPhotonics/SharkTooth/config"
	"github.com/WasatchPhotonics/SharkTooth/health"
	"github.com/WasatchPhotonics/SharkTooth/session"
	"github.com/WasatchPhotonics/SharkTooth/watchdog"
)

func main() {
	cmd := &cli.Command{
		Name:      "sharktooth-inspector",
		Usage:     "serve a reconstructed ENG-001 capture session over HTTP",
		ArgsUsage: "<capture.json[.xz]>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: ":8718", Usage: "listen address"},
			&cli.StringFlag{Name: "config", Usage: "TOML config file"},
			&cli.StringFlag{Name: "log-file", Usage: "log to a rotated file instead of stderr"},
			&cli.BoolFlag{Name: "watch", Usage: "rebuild the session when the capture file changes"},
			&cli.BoolFlag{Name: "debug", Usage: "verbose logging"},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("capture file argument required")
	}

	logger := newLogger(cmd.String("log-file"), cmd.Bool("debug"))

	cfg := config.Default()
	if cfgPath := cmd.String("config"); cfgPath != "" {
		var err error
		if cfg, err = config.LoadFile(cfgPath); err != nil {
			return err
		}
	}

	sess, err := session.Load(path, cfg, session.WithLogger(logger))
	if err != nil {
		return err
	}
	var current atomic.Pointer[session.Session]
	current.Store(sess)

	mon := health.NewMonitor()
	logger.Info("session ready", "capture", path, "stats", sess.Stats())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd.Bool("watch") {
		stopWatch, err := watchCapture(ctx, path, cfg, &current, mon, logger)
		if err != nil {
			return err
		}
		defer stopWatch()
	}

	app := buildApp(current.Load, mon, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(cmd.String("listen"))
	}()

	wd := watchdog.New()
	defer wd.Close()
	_ = wd.Ready()
	go wd.Run(ctx)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	return app.Shutdown()
}

// newLogger configures slog output: stderr by default, a size-rotated file
// when requested.
func newLogger(logFile string, debug bool) *slog.Logger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    20, // MB
			MaxBackups: 5,
		}
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
