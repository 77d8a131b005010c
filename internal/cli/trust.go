package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cupcake-sh/cupcake/internal/trustsvc"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage the project's trust manifest for signal and action scripts",
}

var trustUpdateCmd = &cobra.Command{
	Use:   "update NAME SCRIPT_PATH",
	Short: "Record a script's current digest as trusted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		manifestPath := filepath.Join(dir, ".cupcake", "trust", "manifest.yml")
		store := trustsvc.New(manifestPath, nil)
		if err := store.Load(); err != nil {
			return err
		}
		if err := store.Update(args[0], args[1]); err != nil {
			return err
		}
		if err := store.Save(); err != nil {
			return err
		}
		printSuccess("trusted %q at %s", args[0], args[1])
		return nil
	},
}

var trustVerifyCmd = &cobra.Command{
	Use:   "verify NAME SCRIPT_PATH",
	Short: "Check a script against the trust manifest without running it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		manifestPath := filepath.Join(dir, ".cupcake", "trust", "manifest.yml")
		store := trustsvc.New(manifestPath, nil)
		if err := store.Load(); err != nil {
			return err
		}
		if err := store.Verify(args[0], args[1]); err != nil {
			printError("%v", err)
			os.Exit(ExitPolicyError)
		}
		printSuccess("%q matches trusted digest", args[0])
		return nil
	},
}

func init() {
	trustCmd.AddCommand(trustUpdateCmd)
	trustCmd.AddCommand(trustVerifyCmd)
}
