package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cupcake-sh/cupcake/internal/config"
	"github.com/cupcake-sh/cupcake/internal/ruleset"
	"github.com/cupcake-sh/cupcake/internal/scanner"
	"github.com/cupcake-sh/cupcake/internal/types"
)

var verifyRender bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Fail-closed compile check of the project's policy directory",
	Long: `verify scans and compiles every policy module without evaluating them,
exiting non-zero on the first error. Unlike eval's fail-open default, verify
is meant for CI: a broken policy directory should break the build, not the
agent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}

		policyDir := cfgPolicyDir
		if policyDir == "" {
			policyDir = filepath.Join(dir, "policies")
		}

		logger := zap.NewNop()
		settings, err := config.Load(dir)
		if err != nil {
			logger.Warn("rulebook load failed", zap.Error(err))
			settings = config.DefaultSettings()
		}
		_ = settings

		sc, err := scanner.New()
		if err != nil {
			printError("%v", err)
			os.Exit(ExitPolicyError)
		}

		modules, err := sc.Walk(policyDir, types.TierProject)
		if err != nil {
			printError("%v", err)
			os.Exit(ExitPolicyError)
		}

		bodies := make(map[string][]byte, len(modules))
		for _, mod := range modules {
			raw, err := os.ReadFile(mod.Path)
			if err != nil {
				printError("%v", err)
				os.Exit(ExitPolicyError)
			}
			bodies[mod.Path] = raw
		}

		if _, err := ruleset.Compile(types.TierProject, modules, bodies); err != nil {
			printError("%v", err)
			os.Exit(ExitPolicyError)
		}

		if verifyRender {
			for _, mod := range modules {
				rendered, err := scanner.CanonicalRender(mod)
				if err != nil {
					printError("%v", err)
					os.Exit(ExitPolicyError)
				}
				printDim("--- %s ---\n%s", mod.ID, rendered)
			}
		}

		printSuccess("%d policy module(s) compiled cleanly", len(modules))
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyRender, "render", false, "print a canonical rendering of each compiled policy module")
}
