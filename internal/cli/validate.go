package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/detect/internal/compiler"
	"github.com/telhawk-systems/detect/internal/importer"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

var validateCmd = &cobra.Command{
	Use:   "validate [rules-dir]",
	Short: "Compile all rules and report errors",
	Long: `Load every rule definition from the rules directory and compile
it. Exits nonzero if any rule is invalid.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	dir := cfg.Rules.Dir
	if len(args) > 0 {
		dir = args[0]
	}

	defs, err := importer.New(dir, logger).Load()
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	seen := make(map[string]bool, len(defs))
	invalid := 0
	for _, def := range defs {
		if seen[def.ID] {
			invalid++
			fmt.Fprintf(os.Stderr, "%s %s: duplicate rule id\n", failColor.Sprint("FAIL"), def.ID)
			continue
		}
		seen[def.ID] = true

		if _, cerr := compiler.Compile(def); cerr != nil {
			invalid++
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", failColor.Sprint("FAIL"), def.ID, cerr)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okColor.Sprint("OK  "), def.ID)
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d rules invalid", invalid, len(defs))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d rules valid\n", len(defs))
	return nil
}
