package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/diamondlog/syncd/internal/auth"
	"github.com/diamondlog/syncd/internal/schema"
	"github.com/diamondlog/syncd/internal/stats"
	"github.com/diamondlog/syncd/internal/store"
)

type careerLine struct {
	Profile  string          `json:"profile" yaml:"profile"`
	Plays    int             `json:"plays" yaml:"plays"`
	Counters schema.Counters `json:"counters" yaml:"counters"`
	Rates    schema.Rates    `json:"rates" yaml:"rates"`
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "sync",
	Short:   "Show career statistics per profile",
	Long: `Display the career statistics of every profile of the account.

Statistics are recomputed from the visible play results when the stored
snapshot is stale, so the output always matches the plays on this device.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fail("%v", err)
		}

		ctx := context.Background()
		var (
			st      *store.Store
			engine  *stats.Engine
			session *auth.Session
			lines   []careerLine
		)
		err = withApp(ctx, cfg, func() error {
			account, err := accountOf(session)
			if err != nil {
				return err
			}
			profiles, err := st.List(ctx, account, schema.KindProfile)
			if err != nil {
				return err
			}
			for _, e := range profiles {
				p := e.(*schema.Profile)
				snap, err := engine.Current(ctx, stats.ProfileScope(p.LocalID))
				if err != nil {
					return err
				}
				lines = append(lines, careerLine{
					Profile:  p.Name,
					Plays:    snap.PlayCount,
					Counters: snap.Counters,
					Rates:    snap.Rates,
				})
			}
			return nil
		}, &st, &engine, &session)
		if err != nil {
			fail("%v", err)
		}

		if ok, err := structured(os.Stdout, lines); ok {
			if err != nil {
				fail("%v", err)
			}
			return
		}
		if len(lines) == 0 {
			fmt.Println(renderMuted("No profiles"))
			return
		}

		rows := make([][]string, 0, len(lines))
		for _, l := range lines {
			c := l.Counters
			rows = append(rows, []string{
				l.Profile,
				strconv.Itoa(c.PlateAppearances),
				strconv.Itoa(c.AtBats),
				strconv.Itoa(c.Hits),
				strconv.Itoa(c.HomeRuns),
				strconv.Itoa(c.Walks),
				strconv.Itoa(c.Strikeouts),
				rate(l.Rates.BattingAverage),
				rate(l.Rates.OnBasePercentage),
				rate(l.Rates.Slugging),
				rate(l.Rates.OPS),
			})
		}
		table(os.Stdout, []string{"PROFILE", "PA", "AB", "H", "HR", "BB", "K", "AVG", "OBP", "SLG", "OPS"}, rows)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

// rate formats a percentage the way box scores do: .429, 1.036.
func rate(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	if v < 1 {
		return s[1:]
	}
	return s
}
