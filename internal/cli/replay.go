package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/detect/internal/emitter"
	"github.com/telhawk-systems/detect/internal/engine"
	"github.com/telhawk-systems/detect/internal/importer"
	"github.com/telhawk-systems/detect/internal/state"
)

var replayEventsFile string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded event file through the rule set",
	Long: `Evaluate a JSON-line event file against the rule set and write
the resulting alerts to stdout. State starts empty and no admin
server or suppression is involved, so runs are reproducible.`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayEventsFile, "events", "", "JSON-line event file (default: stdin)")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	defs, err := importer.New(cfg.Rules.Dir, logger).Load()
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	store := state.NewStore(cfg.Engine.MaxWindowStates, cfg.Engine.Shards, cfg.Engine.StateTTL, nil)
	eng := engine.New(store, emitter.NewWriterEmitter(cmd.OutOrStdout()), logger)

	if _, errs := eng.LoadRules(defs); len(errs) > 0 {
		for _, e := range errs {
			logger.Error("invalid rule", "rule_id", e.RuleID, "error", e.Error())
		}
		return fmt.Errorf("rule set rejected: %d invalid rules", len(errs))
	}

	in := cmd.InOrStdin()
	if replayEventsFile != "" {
		f, err := os.Open(replayEventsFile)
		if err != nil {
			return fmt.Errorf("opening events file: %w", err)
		}
		defer f.Close()
		in = f
	}

	count, err := ingestLoop(context.Background(), eng, in)
	if err != nil {
		return err
	}
	logger.Info("replay complete", "events", count, "rules", eng.ActiveRuleCount())
	return nil
}
