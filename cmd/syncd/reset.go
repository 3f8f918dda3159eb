package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/diamondlog/syncd/internal/auth"
	"github.com/diamondlog/syncd/internal/backup"
	"github.com/diamondlog/syncd/internal/store"
	"github.com/diamondlog/syncd/internal/sync"
)

var resetCmd = &cobra.Command{
	Use:     "reset",
	GroupID: "maint",
	Short:   "Clear the account's sync state",
	Long: `Clear the download watermarks and retry counters of the account, as
happens when a different account signs in. Local records are kept; the next
pass downloads everything again and re-uploads whatever is dirty.

With --backup, the account's records are written to a JSONL backup first.
With --purge, acknowledged tombstones are removed as well.`,
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		purge, _ := cmd.Flags().GetBool("purge")
		takeBackup, _ := cmd.Flags().GetBool("backup")

		cfg, err := loadConfig(cmd)
		if err != nil {
			fail("%v", err)
		}

		ctx := context.Background()
		var (
			st      *store.Store
			coord   *sync.Coordinator
			session *auth.Session
			purged  int64
			account string
			saved   *backup.Result
		)
		err = withApp(ctx, cfg, func() error {
			account, err = accountOf(session)
			if err != nil {
				return err
			}
			if !yes {
				confirmed := false
				form := huh.NewConfirm().
					Title(fmt.Sprintf("Reset sync state of %s?", account)).
					Description("The next pass downloads every record again.").
					Affirmative("Reset").
					Negative("Cancel").
					Value(&confirmed)
				if err := form.Run(); err != nil {
					return err
				}
				if !confirmed {
					return errCancelled
				}
			}
			if takeBackup {
				if saved, err = writeBackup(ctx, cfg, st, account, ""); err != nil {
					return err
				}
			}
			if err := coord.ResetAccount(ctx, account); err != nil {
				return err
			}
			if purge {
				purged, err = st.Purge(ctx, account)
			}
			return err
		}, &st, &coord, &session)
		if errors.Is(err, errCancelled) {
			fmt.Println(renderMuted("Cancelled"))
			return
		}
		if err != nil {
			fail("%v", err)
		}

		if saved != nil {
			fmt.Printf("%s Backed up %d records to %s\n", renderPass("✓"), saved.Records, renderAccent(saved.Path))
		}
		fmt.Printf("%s Sync state of %s reset\n", renderPass("✓"), renderAccent(account))
		if purge {
			fmt.Printf("   Purged %d tombstones\n", purged)
		}
	},
}

var errCancelled = errors.New("cancelled")

func init() {
	resetCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	resetCmd.Flags().Bool("purge", false, "also remove acknowledged tombstones")
	resetCmd.Flags().Bool("backup", false, "write a backup of the account first")
	rootCmd.AddCommand(resetCmd)
}
