package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/diamondlog/syncd/internal/auth"
	"github.com/diamondlog/syncd/internal/backup"
	"github.com/diamondlog/syncd/internal/config"
	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/store"
)

var backupCmd = &cobra.Command{
	Use:     "backup",
	GroupID: "maint",
	Short:   "Write or check JSONL backups of the account's records",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Write every local record of the account to a JSONL file",
	Long: `Write every local record of the account, tombstones included, to a JSONL
file. Records are written parent-first with their sync metadata.

Without --out the file goes to <data-dir>/backups/syncd-<time>.jsonl.`,
	Run: func(cmd *cobra.Command, args []string) {
		out, _ := cmd.Flags().GetString("out")

		cfg, err := loadConfig(cmd)
		if err != nil {
			fail("%v", err)
		}

		ctx := context.Background()
		var (
			st      *store.Store
			session *auth.Session
			res     *backup.Result
		)
		err = withApp(ctx, cfg, func() error {
			account, err := accountOf(session)
			if err != nil {
				return err
			}
			res, err = writeBackup(ctx, cfg, st, account, out)
			return err
		}, &st, &session)
		if err != nil {
			fail("%v", err)
		}
		printBackup(res)
	},
}

var backupCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a backup file",
	Long: `Read a backup file and validate every record: the JSON must decode, the
entity must be valid, and no record may precede its parent.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, res, err := backup.ReadFile(args[0])
		if err != nil {
			fail("%v", err)
		}
		printBackup(res)
	},
}

func init() {
	backupCreateCmd.Flags().StringP("out", "o", "", "backup file path")
	backupCmd.AddCommand(backupCreateCmd, backupCheckCmd)
	rootCmd.AddCommand(backupCmd)
}

// writeBackup exports account to out, or to a timestamped file in the data
// directory.
func writeBackup(ctx context.Context, cfg *config.Config, st *store.Store, account, out string) (*backup.Result, error) {
	if out == "" {
		out = backup.FileName(filepath.Join(cfg.DataDir, "backups"), time.Now())
	}
	return backup.WriteFile(ctx, st, account, out)
}

func printBackup(res *backup.Result) {
	if ok, err := structured(os.Stdout, res); ok {
		if err != nil {
			fail("%v", err)
		}
		return
	}

	kinds := make([]string, 0, len(res.ByKind))
	for k := range res.ByKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	rows := make([][]string, 0, len(kinds))
	for _, k := range kinds {
		rows = append(rows, []string{k, strconv.Itoa(res.ByKind[schema.Kind(k)])})
	}
	table(os.Stdout, []string{"KIND", "RECORDS"}, rows)
	fmt.Printf("%s %d records in %s\n", renderPass("✓"), res.Records, renderAccent(res.Path))
}
