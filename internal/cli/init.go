package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cupcake-sh/cupcake/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a project's .cupcake state directory and rulebook.yml",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}

		stateDir, err := config.StateDir(dir)
		if err != nil {
			return err
		}

		policyDir := cfgPolicyDir
		if policyDir == "" {
			policyDir = filepath.Join(dir, "policies")
		}
		if err := os.MkdirAll(policyDir, 0o755); err != nil {
			return err
		}

		rulebookPath := filepath.Join(dir, "rulebook.yml")
		if _, err := os.Stat(rulebookPath); os.IsNotExist(err) {
			if err := os.WriteFile(rulebookPath, []byte(defaultRulebook), 0o644); err != nil {
				return err
			}
			printSuccess("wrote %s", rulebookPath)
		} else {
			printInfo("%s already exists, leaving it untouched", rulebookPath)
		}

		printSuccess("initialized %s", stateDir)
		printSuccess("policy directory: %s", policyDir)
		return nil
	},
}

const defaultRulebook = `# rulebook.yml - Cupcake project settings
allow_shell: false
sandbox_uid: 0
timeout_ms: 5000
policy_dir: policies
`
