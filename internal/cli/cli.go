// ============================================================================
// Lustre Scheduler CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides user-friendly command line interface based on Cobra framework
//
// Command Structure:
//   lustre-scheduler                    # Root command
//   ├── run                             # Start the daemon (store + scheduler + power supervisor + metrics)
//   │   └── --config, -c               # Specify config file
//   ├── set-state                       # Drive an object to a new state
//   │   └── --type --id --state --message
//   ├── run-jobs                        # Run a batch of non-state-change jobs
//   │   └── --file --message
//   ├── consequences                    # Preview set_state without persisting
//   │   └── --type --id --state
//   ├── status                          # View system status
//   ├── power add|remove|list           # Manage configured power devices
//   ├── --version                       # Display version information
//   └── --help                          # Display help information
//
// Configuration Management:
//   Uses YAML format config file (default: configs/default.yaml). See
//   internal/config for the full schema (store WAL/snapshot paths, power
//   reconcile interval, metrics port).
//
// run Command:
//   Starts the complete scheduler daemon:
//   1. Load config file
//   2. Open the store (replays WAL + snapshot)
//   3. Start the power monitor supervisor
//   4. Start the Metrics HTTP server (if enabled)
//   5. Listen for system signals (SIGINT, SIGTERM)
//   6. Gracefully shut down
//
//   Examples:
//     ./lustre-scheduler run
//     ./lustre-scheduler run -c custom-config.yaml
//
// set-state / run-jobs / consequences Commands:
//   One-shot administrative commands: open the store, perform a single
//   planning operation, close the store. Intended for operators driving the
//   scheduler directly when the daemon process is not between them and the
//   store (spec.md's Command API has no network transport of its own).
//
// Signal Handling:
//   run command captures following signals and gracefully shuts down:
//   - SIGINT (Ctrl+C): User interrupt
//   - SIGTERM: System terminate request
//
// Metrics Service:
//   If enabled in config, starts HTTP service in separate goroutine:
//   - Port: metrics.port from the config file (9100 in configs/default.yaml)
//   - Path: /metrics
//   - Format: Prometheus format
//
// Error Handling:
//   - Config load failed: Return detailed error information
//   - Store open failed: Clean up resources and return
//   - Job submission failed: Display error but don't interrupt system
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/whamcloud/lustre-scheduler/internal/config"
	"github.com/whamcloud/lustre-scheduler/internal/lockcache"
	"github.com/whamcloud/lustre-scheduler/internal/lustre"
	"github.com/whamcloud/lustre-scheduler/internal/metrics"
	"github.com/whamcloud/lustre-scheduler/internal/power"
	"github.com/whamcloud/lustre-scheduler/internal/scheduler"
	"github.com/whamcloud/lustre-scheduler/internal/store"
	"github.com/whamcloud/lustre-scheduler/pkg/types"
)

var configFile string

// BuildCLI assembles the root lustre-scheduler command tree.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lustre-scheduler",
		Short: "Lustre Scheduler: a storage cluster state scheduling control plane",
		Long: `lustre-scheduler is a storage cluster scheduler control plane:
- route-planned state transitions with dependency-aware prerequisites
- crash-recoverable WAL+snapshot persistence
- Prometheus metrics
- per-device power control monitoring`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSetStateCommand())
	rootCmd.AddCommand(buildRunJobsCommand())
	rootCmd.AddCommand(buildConsequencesCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildPowerCommand())

	return rootCmd
}

// devicesPath derives the power device list's JSON sidecar path from the
// snapshot directory so it travels with the rest of a deployment's state.
func devicesPath(cfg *config.Config) string {
	return filepath.Join(cfg.Store.SnapshotDir, "power_devices.json")
}

func loadDevices(path string) ([]types.Sockaddr, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read power devices file: %w", err)
	}
	var devices []types.Sockaddr
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("failed to parse power devices file: %w", err)
	}
	return devices, nil
}

func saveDevices(path string, devices []types.Sockaddr) error {
	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode power devices: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create power devices directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write power devices file: %w", err)
	}
	return nil
}

// newSampleRegistry seeds a small in-memory object model so the CLI is
// immediately runnable out of the box. A production deployment swaps
// internal/lustre.Registry for one backed by the real model database;
// nothing else in this package would change.
func newSampleRegistry() *lustre.Registry {
	r := lustre.New()
	r.AddHost(1, "lnet_up")
	r.AddTarget(1, 1, "mounted")
	r.AddTarget(2, 1, "mounted")
	r.AddFilesystem(1, []int64{1, 2}, "available")
	return r
}

// walFilePath and snapshotFilePath give the store the concrete file it
// reads/writes. cfg.Store.WALDir/SnapshotDir name directories (so the
// power device sidecar file can live alongside the snapshot without
// colliding with it); openWAL creates the WAL directory itself, but the
// snapshot directory has to be created here since snapshotManager never
// creates directories on its own.
func walFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.Store.WALDir, "store.wal")
}

func snapshotFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.Store.SnapshotDir, "snapshot.json")
}

func openStore(cfg *config.Config) (*store.Store, *lockcache.Cache, error) {
	if err := os.MkdirAll(cfg.Store.SnapshotDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	st, pending, err := store.Open(store.Options{
		WALPath:        walFilePath(cfg),
		SnapshotPath:   snapshotFilePath(cfg),
		WALBufferSize:  cfg.Store.WALBufferSize,
		WALFlushPeriod: cfg.WALFlushInterval(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	locks := lockcache.New()
	locks.Seed(pending)
	return st, locks, nil
}

func buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the lustre-scheduler daemon",
		Long:  "Open the store, start the power monitor supervisor and metrics server, and serve until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
	return cmd
}

func runDaemon() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	log := slog.Default()
	log.Info("starting lustre-scheduler", "config", configFile)

	recoveryStart := time.Now()
	st, locks, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	recoveryTime := time.Since(recoveryStart)

	reg := newSampleRegistry()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		collector.SetRecoveryTime(recoveryTime.Seconds())
		go func() {
			log.Info("starting metrics server", "port", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("metrics server stopped", "err", err)
			}
		}()
	}

	var sm scheduler.Metrics
	if collector != nil {
		sm = collector
	}
	sched := scheduler.New(st, reg, locks, sm, log)
	_ = sched // available for an in-process RPC front-end; this CLI drives it via the one-shot subcommands instead

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	devPath := devicesPath(cfg)
	lister := func() []types.Sockaddr {
		devices, err := loadDevices(devPath)
		if err != nil {
			log.Error("failed to reload power devices", "err", err)
			return nil
		}
		return devices
	}

	var alerts power.AlertSink
	if collector != nil {
		alerts = collector
	} else {
		alerts = noopAlerts{}
	}

	sup := power.NewSupervisor(lister, noopManager{}, probeAlwaysUp, alerts, log, cfg.PowerReconcileInterval())
	go sup.Run(ctx)

	log.Info("system started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("received shutdown signal, stopping gracefully")
	cancel()

	log.Info("system stopped")
	return nil
}

type noopAlerts struct{}

func (noopAlerts) Raise(types.Sockaddr) {}
func (noopAlerts) Clear(types.Sockaddr) {}

type noopManager struct{}

func (noopManager) Dispatch(ctx context.Context, addr types.Sockaddr, task string, args map[string]any) error {
	return nil
}

func probeAlwaysUp(ctx context.Context, addr types.Sockaddr) (bool, error) {
	return true, nil
}

func buildSetStateCommand() *cobra.Command {
	var contentType string
	var id int64
	var state string
	var message string

	cmd := &cobra.Command{
		Use:   "set-state",
		Short: "Drive an object to a new state",
		Long:  "Plan and persist the route from an object's current state to the requested state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetState(contentType, id, state, message)
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "object content type (e.g. target)")
	cmd.Flags().Int64Var(&id, "id", 0, "object id")
	cmd.Flags().StringVar(&state, "state", "", "requested state")
	cmd.Flags().StringVar(&message, "message", "", "human-readable command message")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("state")

	return cmd
}

func runSetState(contentType string, id int64, state, message string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	st, locks, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := newSampleRegistry()
	sched := scheduler.New(st, reg, locks, nil, nil)

	obj := types.ObjectRef{ContentType: contentType, ID: id}
	cmdID, err := sched.SetState(obj, state, message)
	if err != nil {
		return fmt.Errorf("set_state failed: %w", err)
	}

	fmt.Printf("command %d created\n", cmdID)
	return nil
}

func buildRunJobsCommand() *cobra.Command {
	var jobFile string
	var message string

	cmd := &cobra.Command{
		Use:   "run-jobs",
		Short: "Run a batch of non-state-change jobs",
		Long:  "Read job descriptors ({class, args}) from a JSON file and run them, expanding any prerequisite state transitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobFile == "" {
				return fmt.Errorf("job file is required (use --file or -f)")
			}
			return runRunJobs(jobFile, message)
		},
	}
	cmd.Flags().StringVarP(&jobFile, "file", "f", "", "JSON file containing job descriptors")
	cmd.Flags().StringVar(&message, "message", "", "human-readable command message")
	cmd.MarkFlagRequired("file")

	return cmd
}

func runRunJobs(filePath, message string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read job file: %w", err)
	}

	var descriptorsInput []struct {
		Class string         `json:"class"`
		Args  map[string]any `json:"args"`
	}
	if err := json.Unmarshal(data, &descriptorsInput); err != nil {
		return fmt.Errorf("failed to parse job file: %w", err)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	st, locks, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := newSampleRegistry()
	sched := scheduler.New(st, reg, locks, nil, nil)

	descriptors := make([]scheduler.JobDescriptor, len(descriptorsInput))
	for i, d := range descriptorsInput {
		descriptors[i] = scheduler.JobDescriptor{Class: d.Class, Args: d.Args}
	}

	cmdID, err := sched.RunJobs(descriptors, message)
	if err != nil {
		return fmt.Errorf("command_run_jobs failed: %w", err)
	}

	fmt.Printf("command %d created\n", cmdID)
	return nil
}

func buildConsequencesCommand() *cobra.Command {
	var contentType string
	var id int64
	var state string

	cmd := &cobra.Command{
		Use:   "consequences",
		Short: "Preview the jobs set-state would create, without persisting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsequences(contentType, id, state)
		},
	}
	cmd.Flags().StringVar(&contentType, "type", "", "object content type (e.g. target)")
	cmd.Flags().Int64Var(&id, "id", 0, "object id")
	cmd.Flags().StringVar(&state, "state", "", "candidate state")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("state")

	return cmd
}

func runConsequences(contentType string, id int64, state string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	st, locks, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := newSampleRegistry()
	sched := scheduler.New(st, reg, locks, nil, nil)

	obj := types.ObjectRef{ContentType: contentType, ID: id}
	result, err := sched.TransitionConsequences(obj, state)
	if err != nil {
		return fmt.Errorf("get_transition_consequences failed: %w", err)
	}

	if result.NoOp {
		fmt.Println("no transition needed")
		return nil
	}

	fmt.Printf("transition job: %s (%s)\n", result.TransitionJob.Class, result.TransitionJob.Description)
	for _, dep := range result.DependencyJobs {
		fmt.Printf("  requires: %s (%s)\n", dep.Class, dep.Description)
	}
	return nil
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		Long:  "Display job store statistics and system health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	fmt.Println("\n=== Lustre Scheduler Status ===")
	fmt.Println()

	fmt.Println("Configuration:")
	fmt.Printf("  Config file:      %s\n", configFile)
	fmt.Printf("  WAL dir:          %s\n", cfg.Store.WALDir)
	fmt.Printf("  Snapshot dir:     %s\n", cfg.Store.SnapshotDir)
	fmt.Printf("  Snapshot every:   %ds\n", cfg.Store.SnapshotIntervalSec)
	fmt.Println()

	st, _, err := openStore(cfg)
	if err != nil {
		fmt.Printf("Store: unavailable (%v)\n", err)
		return nil
	}
	defer st.Close()

	stats := st.Stats()
	fmt.Println("Job store statistics:")
	fmt.Printf("  pending:   %d\n", stats[types.JobPending])
	fmt.Printf("  tasked:    %d\n", stats[types.JobTasked])
	fmt.Printf("  complete:  %d\n", stats[types.JobComplete])
	fmt.Printf("  errored:   %d\n", stats[types.JobErrored])
	fmt.Printf("  cancelled: %d\n", stats[types.JobCancelled])
	fmt.Println()

	fmt.Println("Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Printf("  status: enabled on http://localhost:%d/metrics\n", cfg.Metrics.Port)
	} else {
		fmt.Println("  status: disabled")
	}
	fmt.Println()

	return nil
}

func buildPowerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "power",
		Short: "Manage configured power control devices",
	}
	cmd.AddCommand(buildPowerAddCommand())
	cmd.AddCommand(buildPowerRemoveCommand())
	cmd.AddCommand(buildPowerListCommand())
	return cmd
}

func buildPowerAddCommand() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a power control device to the monitored set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return powerAdd(host, port)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "device host")
	cmd.Flags().IntVar(&port, "port", 0, "device port")
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("port")
	return cmd
}

func powerAdd(host string, port int) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	path := devicesPath(cfg)
	devices, err := loadDevices(path)
	if err != nil {
		return err
	}
	addr := types.Sockaddr{Host: host, Port: port}
	for _, d := range devices {
		if d == addr {
			fmt.Println("device already configured")
			return nil
		}
	}
	devices = append(devices, addr)
	if err := saveDevices(path, devices); err != nil {
		return err
	}
	fmt.Printf("added power device %s:%d\n", host, port)
	return nil
}

func buildPowerRemoveCommand() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a power control device from the monitored set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return powerRemove(host, port)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "device host")
	cmd.Flags().IntVar(&port, "port", 0, "device port")
	cmd.MarkFlagRequired("host")
	cmd.MarkFlagRequired("port")
	return cmd
}

func powerRemove(host string, port int) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	path := devicesPath(cfg)
	devices, err := loadDevices(path)
	if err != nil {
		return err
	}
	addr := types.Sockaddr{Host: host, Port: port}
	out := devices[:0]
	for _, d := range devices {
		if d != addr {
			out = append(out, d)
		}
	}
	if err := saveDevices(path, out); err != nil {
		return err
	}
	fmt.Printf("removed power device %s:%d\n", host, port)
	return nil
}

func buildPowerListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured power control devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return powerList()
		},
	}
	return cmd
}

func powerList() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	devices, err := loadDevices(devicesPath(cfg))
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no power devices configured")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%s:%d\n", d.Host, d.Port)
	}
	return nil
}
