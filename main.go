package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lock-approach.klederson.com/internal/app"
	"lock-approach.klederson.com/internal/bluetooth"
	"lock-approach.klederson.com/internal/config"
	"lock-approach.klederson.com/internal/controller"
	"lock-approach.klederson.com/internal/geofence"
	"lock-approach.klederson.com/internal/logger"
	"lock-approach.klederson.com/internal/logsink"
	"lock-approach.klederson.com/internal/mode"
	"lock-approach.klederson.com/internal/proximity"
	"lock-approach.klederson.com/internal/ranging"
)

const simInterval = 200 * time.Millisecond

var (
	flagConfig   string
	flagDemo     bool
	flagAdapter  string
	flagNoUWB    bool
	flagHeadless bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lock-approach",
		Short: "Lock approach controller - unlocks a BLE door lock as you walk up to it",
		Long: `lock-approach connects to a BLE door lock, measures how close you are
using UWB ranging (or BLE signal strength as a fallback) and sends the
confirmation command once you are within the threshold.

Requires sudo or CAP_NET_ADMIN capability for real Bluetooth access.
Use --demo flag for a simulated lock and ranging module.`,
		RunE: run,
	}
	addRunFlags(rootCmd)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller (default)",
		RunE:  run,
	}
	addRunFlags(runCmd)

	checkCmd := &cobra.Command{
		Use:   "check-config",
		Short: "Load, validate and print the effective configuration",
		RunE:  checkConfig,
	}
	checkCmd.Flags().StringVar(&flagConfig, "config", config.DefaultConfigPath, "Path to the YAML config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		},
	}

	rootCmd.AddCommand(runCmd, checkCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagConfig, "config", config.DefaultConfigPath, "Path to the YAML config file")
	cmd.Flags().BoolVar(&flagDemo, "demo", false, "Run against a simulated lock and ranging module (no hardware required)")
	cmd.Flags().StringVar(&flagAdapter, "adapter", "", "Bluetooth adapter to use (overrides config)")
	cmd.Flags().BoolVar(&flagNoUWB, "no-uwb", false, "Run without ranging hardware (signal-only)")
	cmd.Flags().BoolVar(&flagHeadless, "headless", false, "Run without the terminal monitor")
}

func checkConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagAdapter != "" {
		cfg.Lock.Adapter = flagAdapter
	}

	log, closeLog, err := openLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, closeSink, err := openSink(cfg.LogSink, log)
	if err != nil {
		return err
	}
	defer closeSink()

	ctrl := controller.New(cfg, newRadio(cfg), newBackend(cfg), sink, log)

	flags := make(chan mode.Flags, 1)
	watcher := config.NewWatcher(flagConfig, cfg.Timing.ConfigPollInterval, cfg.Flags(), log)
	go watcher.Run(ctx, flags)

	var positions chan geofence.Position
	if cfg.Geofence.Enabled && cfg.Geofence.GPSPort != "" {
		positions = make(chan geofence.Position, 4)
		reader := geofence.NewNMEAReader(cfg.Geofence.GPSPort, cfg.Geofence.GPSBaud, log)
		go func() {
			if err := reader.Run(ctx, positions); err != nil {
				log.Error("gps reader stopped", "error", err)
			}
		}()
	}

	if flagHeadless {
		err := ctrl.Run(ctx, flags, positions)
		if err != nil && !errors.Is(err, context.Canceled) {
			printPermissionHint(err)
			return err
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := app.New(ctx, ctrl, cfg, flagDemo)
	p := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithFPS(30),
	)

	// Forward controller updates with reference to the tea program
	app.Forward(ctx, p, ctrl)

	ctrlErr := make(chan error, 1)
	go func() {
		err := ctrl.Run(ctx, flags, positions)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.Send(app.ControllerErrorMsg{Err: err})
		}
		ctrlErr <- err
	}()

	_, err = p.Run()
	cancel()
	if cerr := <-ctrlErr; cerr != nil && !errors.Is(cerr, context.Canceled) {
		printPermissionHint(cerr)
		return cerr
	}
	return err
}

// openLogger keeps the terminal clear for the monitor unless logs go to a file.
func openLogger(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	if !flagHeadless && (cfg.Output == "" || cfg.Output == "stderr" || cfg.Output == "stdout") {
		return logger.Discard(), func() error { return nil }, nil
	}
	return logger.New(cfg)
}

func openSink(cfg config.LogSinkConfig, log *slog.Logger) (proximity.LogSink, func() error, error) {
	sinks := logsink.Multi{logsink.NewLogger(log)}
	if cfg.Path == "" {
		return sinks, func() error { return nil }, nil
	}
	db, err := logsink.OpenSQLite(cfg.Path, cfg.Retain, log)
	if err != nil {
		return nil, nil, err
	}
	return append(sinks, db), db.Close, nil
}

func newRadio(cfg *config.Config) bluetooth.Radio {
	if flagDemo {
		return bluetooth.NewMockRadio()
	}
	return bluetooth.NewTinyGoRadio(cfg.Lock.Adapter)
}

func newBackend(cfg *config.Config) ranging.Backend {
	switch {
	case flagNoUWB || cfg.Ranging.Backend == "none":
		return ranging.Absent{}
	case flagDemo || cfg.Ranging.Backend == "sim":
		return ranging.NewSimBackend(simInterval, true)
	default:
		return ranging.NewSerialBackend(cfg.Ranging.Port, cfg.Ranging.Baud)
	}
}

func printPermissionHint(err error) {
	if flagDemo {
		return
	}
	fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
	fmt.Fprintln(os.Stderr, "Bluetooth access requires elevated permissions.")
	fmt.Fprintln(os.Stderr, "Try one of:")
	fmt.Fprintln(os.Stderr, "  sudo ./lock-approach")
	fmt.Fprintln(os.Stderr, "  sudo setcap cap_net_admin+ep ./lock-approach")
	fmt.Fprintln(os.Stderr, "  ./lock-approach --demo    (demo mode, no hardware needed)")
}
