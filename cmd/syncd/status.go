package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/diamondlog/syncd/internal/auth"
	"github.com/diamondlog/syncd/internal/config"
	"github.com/diamondlog/syncd/internal/store"
)

type statusOutput struct {
	Account  string             `json:"account" yaml:"account"`
	Device   string             `json:"device" yaml:"device"`
	Database string             `json:"database" yaml:"database"`
	Remote   string             `json:"remote" yaml:"remote"`
	Kinds    []store.KindStatus `json:"kinds" yaml:"kinds"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local sync state per kind",
	Long: `Display the local sync state of the configured account.

Shows, per entity kind:
  - Total, dirty, locally deleted and orphaned records
  - Records waiting on a transient retry
  - The download watermark (server time of the last change received)`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fail("%v", err)
		}
		if _, err := os.Stat(cfg.DatabasePath()); os.IsNotExist(err) {
			fmt.Printf("\n%s Local database not initialized\n", renderWarn("⚠"))
			fmt.Printf("   Run 'syncd pass' to create it\n\n")
			return
		}

		ctx := context.Background()
		var (
			st      *store.Store
			session *auth.Session
			out     statusOutput
		)
		err = withApp(ctx, cfg, func() error {
			account, err := accountOf(session)
			if err != nil {
				return err
			}
			device, err := st.DeviceID(ctx)
			if err != nil {
				return err
			}
			kinds, err := st.Status(ctx, account)
			if err != nil {
				return err
			}
			out = statusOutput{
				Account:  account,
				Device:   device,
				Database: cfg.DatabasePath(),
				Remote:   redactedRemote(cfg),
				Kinds:    kinds,
			}
			return nil
		}, &st, &session)
		if err != nil {
			fail("%v", err)
		}

		if ok, err := structured(os.Stdout, out); ok {
			if err != nil {
				fail("%v", err)
			}
			return
		}

		fmt.Printf("\n%s %s\n", renderAccent("Account:"), out.Account)
		fmt.Printf("%s %s\n", renderAccent("Device: "), out.Device)
		fmt.Printf("%s %s\n", renderAccent("Local:  "), out.Database)
		fmt.Printf("%s %s\n\n", renderAccent("Remote: "), out.Remote)

		rows := make([][]string, 0, len(out.Kinds))
		pending := 0
		for _, k := range out.Kinds {
			pending += k.Dirty
			rows = append(rows, []string{
				string(k.Kind),
				strconv.Itoa(k.Total),
				strconv.Itoa(k.Dirty),
				strconv.Itoa(k.Deleted),
				strconv.Itoa(k.Orphaned),
				strconv.Itoa(k.Retrying),
				watermarkText(k.Watermark),
			})
		}
		table(os.Stdout, []string{"KIND", "TOTAL", "DIRTY", "DELETED", "ORPHANED", "RETRYING", "WATERMARK"}, rows)

		fmt.Println()
		if pending == 0 {
			fmt.Printf("%s Everything is synced\n", renderPass("✓"))
		} else {
			fmt.Printf("%s %d records waiting to upload\n", renderWarn("⚠"), pending)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func watermarkText(t time.Time) string {
	if t.IsZero() {
		return renderMuted("never")
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// redactedRemote hides credentials embedded in the remote URL.
func redactedRemote(cfg *config.Config) string {
	rc := cfg.RemoteStore()
	if rc.IsMemory() {
		return "memory (this process only)"
	}
	return rc.Redacted()
}
