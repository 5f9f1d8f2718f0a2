package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/detect/internal/emitter"
	"github.com/telhawk-systems/detect/internal/engine"
	"github.com/telhawk-systems/detect/internal/handlers"
	"github.com/telhawk-systems/detect/internal/importer"
	"github.com/telhawk-systems/detect/internal/metrics"
	"github.com/telhawk-systems/detect/internal/server"
	"github.com/telhawk-systems/detect/internal/state"
	"github.com/telhawk-systems/detect/pkg/model"
)

// maxEventLine bounds a single JSON event line on stdin.
const maxEventLine = 1024 * 1024

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection engine",
	Long: `Read JSON-line events from stdin, evaluate them against the rule
set, and write alerts as JSON lines to stdout. The admin API and
Prometheus metrics are served over HTTP.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	store := state.NewStore(
		cfg.Engine.MaxWindowStates,
		cfg.Engine.Shards,
		cfg.Engine.StateTTL,
		func() { metrics.WindowStatesDropped.Inc() },
	)

	var sink emitter.Emitter = emitter.NewWriterEmitter(os.Stdout)
	if cfg.Suppression.Enabled {
		opts, err := redis.ParseURL(cfg.Suppression.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid suppression redis url: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		sink = emitter.NewSuppressingEmitter(sink, client, cfg.Suppression.Window, logger)
	}

	eng := engine.New(store, sink, logger)

	defs, err := importer.New(cfg.Rules.Dir, logger).Load()
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	version, errs := eng.LoadRules(defs)
	if len(errs) > 0 {
		for _, e := range errs {
			logger.Error("invalid rule", "rule_id", e.RuleID, "error", e.Error())
		}
		return fmt.Errorf("rule set rejected: %d invalid rules", len(errs))
	}
	logger.Info("rule set loaded", "count", len(defs), "version", version)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	adminSrv := server.New(cfg.Server, handlers.NewHandler(eng, importer.New(cfg.Rules.Dir, logger), logger), logger)
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- adminSrv.ListenAndServe()
	}()

	go evictLoop(ctx, eng, cfg.Engine.EvictionInterval)

	done := make(chan error, 1)
	go func() {
		_, err := ingestLoop(ctx, eng, os.Stdin)
		done <- err
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-done:
		if err != nil {
			logger.Error("event stream failed", "error", err)
		} else {
			logger.Info("event stream closed")
		}
	case err := <-srvErr:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown failed", "error", err)
	}
	return nil
}

// ingestLoop reads JSON-line events and feeds them to the engine until
// EOF or cancellation, returning the number of events evaluated.
// Malformed lines are logged and skipped.
func ingestLoop(ctx context.Context, eng *engine.Engine, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventLine)

	count := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return count, nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := model.DecodeEvent(line)
		if err != nil {
			logger.Warn("skipping malformed event", "error", err)
			continue
		}
		eng.Ingest(ctx, ev)
		count++
	}
	return count, scanner.Err()
}

// evictLoop periodically sweeps expired window state.
func evictLoop(ctx context.Context, eng *engine.Engine, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := eng.EvictExpired(); n > 0 {
				logger.Debug("evicted expired window state", "count", n)
			}
		}
	}
}
