package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/diamondlog/syncd/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default syncd.toml",
	Long: `Write the built-in defaults to syncd.toml in the data directory, or to
the path given with --config. Secrets are never written; set
SYNCD_REMOTE_AUTH_TOKEN and SYNCD_ID_TOKEN in the environment or a .env file.`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		c := config.Default()
		if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
			c.DataDir = dir
		}
		if account, _ := cmd.Flags().GetString("account"); account != "" {
			c.AccountID = account
		}

		path := configFile
		if path == "" {
			path = filepath.Join(c.DataDir, config.FileName)
		}
		if err := config.Write(path, c, force); err != nil {
			fail("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", renderPass("✓"), renderAccent(path))
	},
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
