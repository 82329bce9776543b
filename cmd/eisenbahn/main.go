// Command eisenbahn runs the analytical event platform's processes:
// the messaging broker, a compute/worker process, an ingestion job
// runner, and the rule scheduler/evaluator.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"eisenbahn/internal/ingestion"
	"eisenbahn/internal/logging"
	"eisenbahn/internal/messaging"
	"eisenbahn/internal/rules"
	"eisenbahn/internal/segment"
)

var version = "dev"

func main() {
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "eisenbahn",
		Short: "Analytical event platform",
	}

	rootCmd.AddCommand(
		newBrokerCmd(logger),
		newWorkerCmd(logger),
		newIngestCmd(logger),
		newRulesCmd(logger),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// newBrokerCmd starts the messaging broker: a frontend (publishers connect
// here) and backend (subscribers connect here) TCP listener pair, per §4.8.
func newBrokerCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the pub/sub message broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			frontAddr, _ := cmd.Flags().GetString("frontend")
			backAddr, _ := cmd.Flags().GetString("backend")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			front, err := parseTCPAddr(frontAddr)
			if err != nil {
				return fmt.Errorf("invalid --frontend: %w", err)
			}
			back, err := parseTCPAddr(backAddr)
			if err != nil {
				return fmt.Errorf("invalid --backend: %w", err)
			}

			broker := messaging.NewBroker(front, back, logger)
			logger.Info("starting broker", "frontend", front.String(), "backend", back.String())
			return broker.Run(ctx)
		},
	}
	cmd.Flags().String("frontend", "0.0.0.0:5559", "address publishers connect to")
	cmd.Flags().String("backend", "0.0.0.0:5560", "address subscribers connect to")
	return cmd
}

// newIngestCmd runs a single ingestion job from a JSON source config file
// and writes its output into a segment directory, per §4.10.
func newIngestCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run an ingestion job",
		RunE: func(cmd *cobra.Command, args []string) error {
			sourcePath, _ := cmd.Flags().GetString("source")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			busAddr, _ := cmd.Flags().GetString("bus")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return runIngest(ctx, logger, sourcePath, dataDir, busAddr)
		},
	}
	cmd.Flags().String("source", "", "path to a JSON ingestion.SourceConfig file")
	cmd.Flags().String("data-dir", "./data", "base data directory for segments and job logs")
	cmd.Flags().String("bus", "", "broker frontend address to publish lifecycle events to (optional)")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func runIngest(ctx context.Context, logger *slog.Logger, sourcePath, dataDir, busAddr string) error {
	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("read source config: %w", err)
	}
	var cfg ingestion.SourceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse source config: %w", err)
	}

	manager, err := segment.NewManager(dataDir+"/segments", logger)
	if err != nil {
		return fmt.Errorf("open segment manager: %w", err)
	}
	sink := ingestion.NewManagerSegmentSink(manager)

	jobLog, err := ingestion.NewJobLog(dataDir)
	if err != nil {
		return fmt.Errorf("open job log: %w", err)
	}
	registry := ingestion.NewRegistry()

	var pub *messaging.Publisher
	if busAddr != "" {
		front, err := parseTCPAddr(busAddr)
		if err != nil {
			return fmt.Errorf("invalid --bus: %w", err)
		}
		pub, err = messaging.ConnectPublisher(ctx, front)
		if err != nil {
			return fmt.Errorf("connect to bus: %w", err)
		}
		defer pub.Close()
	}

	orch := ingestion.New(registry, jobLog, pub, time.Now, logger)

	job, err := orch.RunJob(ctx, cfg, ingestion.TriggerManual, sink)
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}

	snap := job.Snapshot()
	out, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Println(string(out))
	if snap.Status == ingestion.StatusFailed {
		return fmt.Errorf("ingestion job failed: %s", snap.Error)
	}
	return nil
}

// newRulesCmd loads rule definitions from a directory of JSON files and
// runs the scheduler/evaluator loop until interrupted, per §4.9.
func newRulesCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Run the rule scheduler and evaluator loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			rulesDir, _ := cmd.Flags().GetString("rules-dir")
			tick, _ := cmd.Flags().GetDuration("tick")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return runRules(ctx, logger, rulesDir, tick, dryRun)
		},
	}
	cmd.Flags().String("rules-dir", "./rules", "directory of JSON rule definitions")
	cmd.Flags().Duration("tick", 10*time.Second, "scheduler poll interval")
	cmd.Flags().Bool("dry-run", false, "evaluate matched rules without recording history or notifying")
	return cmd
}

func runRules(ctx context.Context, logger *slog.Logger, rulesDir string, tick time.Duration, dryRun bool) error {
	loaded, err := loadRuleFiles(rulesDir)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	sched := rules.NewScheduler()
	if skipped := sched.SyncRules(loaded); len(skipped) > 0 {
		for id, err := range skipped {
			logger.Warn("rule disabled on load", "rule_id", id, "error", err)
		}
	}

	// NewEvaluator is given a nil state here; a real deployment wires this
	// to the shared knowledge.State the compute scheduler maintains.
	eval := rules.NewEvaluator(nil, nil, nil, time.Now, logger)
	byID := make(map[string]rules.Rule, len(loaded))
	for _, r := range loaded {
		byID[r.ID] = r
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	logger.Info("rule scheduler started", "rules", len(loaded), "tick", tick)
	for {
		select {
		case <-ctx.Done():
			logger.Info("rule scheduler shutting down")
			return nil
		case <-ticker.C:
			now := time.Now()
			for _, ruleID := range sched.RuleIDs() {
				if !sched.ShouldRun(ruleID, now) {
					continue
				}
				rule := byID[ruleID]
				var matches []rules.Match
				var err error
				if dryRun {
					matches, err = eval.DryRun(ctx, rule)
				} else {
					matches, err = eval.Evaluate(ctx, rule)
					sched.RecordTrigger(ruleID, now)
				}
				if err != nil {
					logger.Error("rule evaluation failed", "rule_id", ruleID, "error", err)
					continue
				}
				logger.Info("rule evaluated", "rule_id", ruleID, "matches", len(matches))
			}
		}
	}
}

func loadRuleFiles(dir string) ([]rules.Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var loaded []rules.Rule
	for _, entry := range entries {
		if entry.IsDir() || !isJSONFile(entry.Name()) {
			continue
		}
		raw, err := os.ReadFile(dir + "/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		var r rules.Rule
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		loaded = append(loaded, r)
	}
	return loaded, nil
}

func isJSONFile(name string) bool {
	return len(name) > 5 && name[len(name)-5:] == ".json"
}

func parseTCPAddr(addr string) (messaging.Transport, error) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return messaging.Transport{}, err
	}
	return messaging.TCP(host, port), nil
}

func splitHostPort(addr string) (string, int, error) {
	var host string
	var port int
	n, err := fmt.Sscanf(addr, "%[^:]:%d", &host, &port)
	if err != nil || n != 2 {
		return "", 0, fmt.Errorf("expected host:port, got %q", addr)
	}
	return host, port, nil
}
