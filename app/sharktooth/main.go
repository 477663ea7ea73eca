// Command sharktooth is the interactive companion to Wireshark for
// diagnosing Wasatch Photonics spectrometer traffic. Point it at a
// "Export Packet Dissections → As JSON" file of a USBPcap capture and it
// reconstructs the ENG-001 protocol session for exploration.
//
// On a terminal it starts an interactive inspector; piped or with --list it
// prints the decoded operation listing and exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/term"
	"github.com/urfave/cli/v3"

	"github.com/WasatchPhotonics/SharkTooth/config"
	"github.com/WasatchPhotonics/SharkTooth/session"
)

const banner = "WP SharkTooth — ENG-001 capture inspector"

func main() {
	cmd := &cli.Command{
		Name:      "sharktooth",
		Usage:     "reconstruct and inspect a spectrometer USB capture",
		ArgsUsage: "<capture.json[.xz]>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "TOML config file"},
			&cli.StringFlag{Name: "device", Usage: "device tag to select up front"},
			&cli.StringFlag{Name: "opcode", Usage: "only list operations with this opcode name"},
			&cli.BoolFlag{Name: "list", Usage: "print the operation listing and exit"},
			&cli.BoolFlag{Name: "debug", Usage: "verbose logging"},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("capture file argument required")
	}

	level := slog.LevelWarn
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

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

	interactive := term.IsTerminal(os.Stdout.Fd()) && term.IsTerminal(os.Stdin.Fd())
	if cmd.Bool("list") || !interactive {
		return printListing(sess, cmd.String("device"), cmd.String("opcode"))
	}

	m := newInspectorModel(sess, path)
	if tag := cmd.String("device"); tag != "" {
		if _, err := m.selectDevice(tag); err != nil {
			return err
		}
	}
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
