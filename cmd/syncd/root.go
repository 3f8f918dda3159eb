package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diamondlog/syncd/internal/config"
)

var (
	configFile string
	jsonOutput bool
	yamlOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "Cross-device sync engine for athlete tracking data",
	Long: `syncd reconciles the local tracking database (profiles, seasons, games,
practices, clips, plays and statistics) with the account's remote store.

Passes upload dirty records parent-first, download remote changes since the
last watermark, settle conflicts and recompute statistics from plays.

Configuration comes from syncd.toml in the data directory, SYNCD_* environment
variables and the flags below, in increasing order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "config file (default <data-dir>/syncd.toml)")
	pf.String("account", "", "account id to sync")
	pf.String("data-dir", "", "directory holding the local database and media")
	pf.String("remote", "", "remote store URL (memory:, libsql://..., or a SQLite path)")
	pf.String("policy", "", "conflict policy: last-write-wins, remote-wins or local-wins")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.Bool("dashboard", false, "serve the WebSocket dashboard")
	pf.String("listen", "", "dashboard listen address")
	pf.Int("concurrent", 0, "parallel uploads per kind")
	pf.BoolVar(&jsonOutput, "json", false, "output JSON")
	pf.BoolVar(&yamlOutput, "yaml", false, "output YAML")
	rootCmd.MarkFlagsMutuallyExclusive("json", "yaml")

	for name := range config.FlagKeys {
		if pf.Lookup(name) == nil {
			panic(fmt.Sprintf("config key for unknown flag %q", name))
		}
	}
}

// loadConfig reads configuration with the command's flags applied.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configFile, cmd.Flags())
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", renderFail("✗"), fmt.Sprintf(format, args...))
	os.Exit(1)
}
