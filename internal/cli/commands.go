// Package cli wires the operator commands. Everything except start talks
// to an already-running controller through its pidfile, its admin API or
// its database.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tradewind/internal/app"
	"tradewind/internal/config"
	"tradewind/internal/logger"
	"tradewind/internal/transport/http/admin"
)

const defaultConfigPath = "configs/config.yaml"

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tradewind",
		Short: "Automated multi-agent trading controller",
		Long: `tradewind runs LLM trading agents on a fixed cycle: collect market
data, ask each agent for a decision, validate it and execute it against
the exchange. Control a running instance with stop, status and agent.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "config file path (default configs/config.yaml, env TRADEWIND_CONFIG)")

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newTriggerCmd())
	rootCmd.AddCommand(newAgentCmd())
	rootCmd.AddCommand(newLogsCmd())
	return rootCmd
}

func resolveConfig(cmd *cobra.Command) (string, *config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("TRADEWIND_CONFIG")
	}
	if path == "" {
		path = defaultConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return "", nil, err
	}
	return path, cfg, nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trading controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			logFile, err := setupLogOutput(cfg.App.LogPath)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			if logFile != nil {
				defer logFile.Close()
			}
			logger.SetLLMWriter(nil)
			if cfg.App.LLMDump {
				llmFile, err := setupLLMLogOutput(cfg.App.LLMLogPath)
				if err != nil {
					return fmt.Errorf("open llm log file: %w", err)
				}
				if llmFile != nil {
					defer llmFile.Close()
				}
			}
			logger.SetLevel(cfg.App.LogLevel)

			pidPath := pidfilePath(cfg)
			if err := writePidfile(pidPath); err != nil {
				return err
			}
			defer os.Remove(pidPath)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			controller, err := app.NewApp(path, cfg)
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			logger.Infof("tradewind starting: %d agents, interval %s", len(cfg.Agents), cfg.Scheduler.Interval())
			return controller.Run(ctx)
		},
	}
}

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")
			pid, err := readPidfile(pidfilePath(cfg))
			if err != nil {
				return err
			}
			sig := syscall.SIGTERM
			if force {
				sig = syscall.SIGKILL
			}
			if err := syscall.Kill(pid, sig); err != nil {
				return fmt.Errorf("signal pid %d: %w", pid, err)
			}
			fmt.Printf("sent %s to pid %d\n", sig, pid)
			if force {
				return nil
			}
			// Wait for the in-flight cycle to drain.
			deadline := time.Now().Add(time.Duration(cfg.Scheduler.StopWaitForCycleSecs+5) * time.Second)
			for time.Now().Before(deadline) {
				if syscall.Kill(pid, 0) != nil {
					fmt.Println("stopped")
					return nil
				}
				time.Sleep(500 * time.Millisecond)
			}
			return fmt.Errorf("pid %d still running, retry with --force", pid)
		},
	}
	cmd.Flags().Bool("force", false, "kill without waiting for the current cycle")
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show controller status",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			if cfg.App.AdminAddr == "" {
				return fmt.Errorf("admin API disabled in config (app.admin_addr)")
			}
			body, err := fetchStatus(cfg.App.AdminAddr)
			if err != nil {
				fmt.Println("not running")
				return nil
			}
			if asJSON {
				fmt.Println(string(body))
				return nil
			}
			var st admin.Status
			if err := json.Unmarshal(body, &st); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			printStatus(st)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the raw JSON payload")
	return cmd
}

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Run one trading cycle now and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.App.AdminAddr == "" {
				return fmt.Errorf("admin API disabled in config (app.admin_addr)")
			}
			// A full cycle includes model round-trips, so the wait is long.
			client := &http.Client{Timeout: 10 * time.Minute}
			resp, err := client.Post(adminURL(cfg.App.AdminAddr)+"/api/trigger", "application/json", nil)
			if err != nil {
				return fmt.Errorf("trigger cycle: %w", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("trigger endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
			}
			var out struct {
				CycleCount int64 `json:"cycle_count"`
			}
			if err := json.Unmarshal(body, &out); err == nil {
				fmt.Printf("cycle complete (count=%d)\n", out.CycleCount)
			} else {
				fmt.Println("cycle complete")
			}
			return nil
		},
	}
}

func adminURL(addr string) string {
	if !strings.Contains(addr, "://") {
		if strings.HasPrefix(addr, ":") {
			addr = "127.0.0.1" + addr
		}
		addr = "http://" + addr
	}
	return addr
}

func fetchStatus(addr string) ([]byte, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(adminURL(addr) + "/api/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func printStatus(st admin.Status) {
	fmt.Printf("running:      %v\n", st.Running)
	fmt.Printf("cycle:        %d (in progress: %v)\n", st.CycleCount, st.CycleRunning)
	fmt.Printf("next run:     %s\n", st.NextRunTime.Format(time.RFC3339))
	if st.ServiceStartTime != "" {
		fmt.Printf("started:      %s\n", st.ServiceStartTime)
	}
	if st.LastCycleTime != "" {
		fmt.Printf("last cycle:   %s\n", st.LastCycleTime)
	}
	if st.LastError != "" {
		fmt.Printf("last error:   %s (%s)\n", st.LastError, st.LastErrorTime)
	}
	fmt.Printf("uptime:       %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
	fmt.Printf("failsafe:     %d/%d consecutive, %d in window\n",
		st.Failsafe.Consecutive, st.Failsafe.MaxConsecutive, st.Failsafe.WindowCount)
}

func pidfilePath(cfg *config.Config) string {
	dir := filepath.Dir(cfg.App.DBPath)
	if dir == "" || dir == "." {
		return "tradewind.pid"
	}
	return filepath.Join(dir, "tradewind.pid")
}

func writePidfile(path string) error {
	if pid, err := readPidfile(path); err == nil && syscall.Kill(pid, 0) == nil {
		return fmt.Errorf("already running with pid %d", pid)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func readPidfile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("no pidfile at %s, is the controller running?", path)
	}
	var pid int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &pid); err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pidfile %s", path)
	}
	return pid, nil
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func setupLLMLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetLLMWriter(file)
	return file, nil
}
