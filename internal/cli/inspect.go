package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cupcake-sh/cupcake/internal/router"
	"github.com/cupcake-sh/cupcake/internal/scanner"
	"github.com/cupcake-sh/cupcake/internal/types"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Dump the routing table computed from the project's policy directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		policyDir := cfgPolicyDir
		if policyDir == "" {
			policyDir = filepath.Join(dir, "policies")
		}

		sc, err := scanner.New()
		if err != nil {
			return err
		}
		modules, err := sc.Walk(policyDir, types.TierProject)
		if err != nil {
			return err
		}

		table := router.Build(modules)
		data, err := json.MarshalIndent(table.Dump(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}
