package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tight5/Zero-Gate-sub000/internal/config"
	internal_http "github.com/Tight5/Zero-Gate-sub000/internal/http"
	"github.com/Tight5/Zero-Gate-sub000/internal/log"
	internal_storage "github.com/Tight5/Zero-Gate-sub000/internal/storage"
	"github.com/Tight5/Zero-Gate-sub000/pkg/gate"
	"github.com/Tight5/Zero-Gate-sub000/pkg/monitor"
	"github.com/Tight5/Zero-Gate-sub000/pkg/scheduler"
	"github.com/Tight5/Zero-Gate-sub000/pkg/storage"
	"github.com/spf13/cobra"
)

func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("addr", "http://localhost:8090", "Orchestrator address for client commands")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow orchestrator",
		Run: func(cmd *cobra.Command, args []string) {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				log.GetLogger().Errorf("Failed to load config: %v", err)
				os.Exit(1)
			}
			runServe(cfg)
		},
	}

	submitCmd := &cobra.Command{
		Use:   "submit [file.json]",
		Short: "Submit a task from a JSON file ('-' for stdin)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			addr, _ := cmd.Flags().GetString("addr")
			raw := readInput(args[0])
			body := postJSON(addr+"/tasks", raw)
			fmt.Fprintln(os.Stdout, string(body))
		},
	}

	bulkCmd := &cobra.Command{
		Use:   "submit-bulk [file.json]",
		Short: "Submit an array of tasks from a JSON file ('-' for stdin)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			addr, _ := cmd.Flags().GetString("addr")
			raw := readInput(args[0])
			body := postJSON(addr+"/tasks/bulk", raw)
			fmt.Fprintln(os.Stdout, string(body))
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status [task-id]",
		Short: "Poll a task's status",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			addr, _ := cmd.Flags().GetString("addr")
			body := getJSON(addr + "/tasks/" + args[0])
			fmt.Fprintln(os.Stdout, string(body))
		},
	}

	systemCmd := &cobra.Command{
		Use:   "system",
		Short: "Show orchestrator status and resource pressure",
		Run: func(cmd *cobra.Command, args []string) {
			addr, _ := cmd.Flags().GetString("addr")
			body := getJSON(addr + "/system/status")
			fmt.Fprintln(os.Stdout, string(body))
		},
	}

	emergencyCmd := &cobra.Command{
		Use:   "emergency [pause_all|resume_all|stop_agent]",
		Short: "Send an emergency control action",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			addr, _ := cmd.Flags().GetString("addr")
			raw, _ := json.Marshal(map[string]string{"action": args[0]})
			body := postJSON(addr+"/system/emergency", raw)
			fmt.Fprintln(os.Stdout, string(body))
		},
	}

	rootCmd.AddCommand(serveCmd, submitCmd, bulkCmd, statusCmd, systemCmd, emergencyCmd)
}

func runServe(cfg config.Config) {
	logger := log.GetLogger()

	var store storage.Store
	if cfg.DBConn != "" {
		pg, err := internal_storage.NewPostgresStore(cfg.DBConn)
		if err != nil {
			logger.Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		store = pg
		logger.Infof("Task archive: postgres")
	} else {
		store = storage.NewMemoryStore()
		logger.Infof("Task archive: in-memory")
	}
	defer store.Close()

	profile := cfg.ActiveProfile()
	logger.Infof("Performance profile: %s (cpu %g/%g, mem %g/%g)",
		profile.Name, profile.CPUHigh, profile.CPUCritical, profile.MemHigh, profile.MemCritical)

	var monOpts []monitor.Option
	if cfg.Monitor.BufferSize > 0 {
		monOpts = append(monOpts, monitor.WithBufferSize(cfg.Monitor.BufferSize))
	}
	mon := monitor.New(profile, logger, monOpts...)
	g := gate.New(mon)

	sched := scheduler.New(scheduler.Config{
		MinConcurrency:           cfg.Scheduler.MinConcurrency,
		MaxConcurrency:           cfg.Scheduler.MaxConcurrency,
		DispatchInterval:         cfg.Scheduler.DispatchInterval.Std(),
		BackoffBase:              cfg.Scheduler.BackoffBase.Std(),
		BackoffCap:               cfg.Scheduler.BackoffCap.Std(),
		TimeoutMultiplier:        cfg.Scheduler.TimeoutMultiplier,
		DefaultMaxAttempts:       cfg.Scheduler.DefaultMaxAttempts,
		DefaultEstimatedDuration: cfg.Scheduler.DefaultEstimatedDuration.Std(),
		Retention:                cfg.Scheduler.Retention.Std(),
	}, g, mon, store, logger)
	sched.RegisterDefaultHandlers()
	for name, tier := range cfg.Features {
		if tier.Valid() {
			g.Register(name, tier)
		} else {
			logger.Errorf("Ignoring invalid tier %q for feature %q", tier, name)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go mon.Run(ctx, cfg.Monitor.SampleInterval.Std())
	sched.Start(ctx)
	defer sched.Stop()

	go func() {
		if err := internal_http.StartServer(cfg.Port, sched); err != nil {
			logger.Errorf("Server stopped: %v", err)
			cancel()
		}
	}()
	<-ctx.Done()
	logger.Infof("Shutting down")
}

func readInput(path string) []byte {
	if path == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read stdin: %v\n", err)
			os.Exit(1)
		}
		return raw
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read %s: %v\n", path, err)
		os.Exit(1)
	}
	return raw
}

func postJSON(url string, body []byte) []byte {
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "Error: %s: %s\n", resp.Status, out)
		os.Exit(1)
	}
	return out
}

func getJSON(url string) []byte {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "Error: %s: %s\n", resp.Status, out)
		os.Exit(1)
	}
	return out
}
