package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/diamondlog/syncd/internal/auth"
	"github.com/diamondlog/syncd/internal/store"
)

var rewindCmd = &cobra.Command{
	Use:     "rewind [when]",
	GroupID: "maint",
	Short:   "Download remote changes again from an earlier time",
	Long: `Move the download watermarks of the account back so the next pass
receives remote changes again from the given time.

The time may be written naturally. Without an argument every watermark is
cleared and the next pass downloads everything.

Examples:
  syncd rewind "yesterday"
  syncd rewind "3 days ago"
  syncd rewind "last monday at 9am"
  syncd rewind`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fail("%v", err)
		}

		var to time.Time
		if len(args) == 1 {
			to, err = parseWhen(args[0], time.Now())
			if err != nil {
				fail("%v", err)
			}
		}

		ctx := context.Background()
		var (
			st      *store.Store
			session *auth.Session
			moved   int64
		)
		err = withApp(ctx, cfg, func() error {
			account, err := accountOf(session)
			if err != nil {
				return err
			}
			moved, err = st.RewindWatermarks(ctx, account, to)
			return err
		}, &st, &session)
		if err != nil {
			fail("%v", err)
		}

		since := "the beginning"
		if !to.IsZero() {
			since = to.Format("2006-01-02 15:04")
		}
		fmt.Printf("%s Rewound %d watermarks to %s\n", renderPass("✓"), moved, renderAccent(since))
		fmt.Println(renderMuted("   The next pass downloads changes again from there"))
	},
}

func init() {
	rootCmd.AddCommand(rewindCmd)
}

// parseWhen reads a natural-language time relative to now. RFC 3339 and
// plain dates are accepted as well.
func parseWhen(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot read time %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("cannot read time %q", text)
	}
	if r.Time.After(now) {
		return time.Time{}, fmt.Errorf("%q is in the future", text)
	}
	return r.Time, nil
}
