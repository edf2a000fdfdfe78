package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/learner"
	"github.com/brightpath/tutorcore/internal/memstore"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show a learner's skill state and memory counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		learnerID, _ := cmd.Flags().GetString("learner")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cmd, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		states, err := learner.NewSQLStore(st.DB()).GetStates(ctx, learnerID)
		if err != nil {
			return fmt.Errorf("load skill states: %w", err)
		}

		if len(states) == 0 {
			fmt.Printf("No practice recorded for learner %q.\n", learnerID)
		} else {
			ids := make([]string, 0, len(states))
			for id := range states {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			fmt.Printf("%-30s  %8s  %8s  %8s  %s\n",
				"Skill", "Strength", "Practice", "Correct", "Last Practice")
			fmt.Println(strings.Repeat("─", 80))
			for _, id := range ids {
				s := states[id]
				last := "never"
				if s.LastPractice != nil {
					last = s.LastPractice.Local().Format(time.DateTime)
				}
				fmt.Printf("%-30s  %8.2f  %8d  %8d  %s\n",
					id, s.Strength, s.PracticeCount, s.CorrectCount, last)
			}
			fmt.Printf("\n%d skills practiced\n", len(states))
		}

		// Count is a pure database read, so no embedding engine is needed.
		memories := memstore.NewStore(st.DB(), nil, cfg.Memory, cfg.DataDir, zap.NewNop())
		counts, err := memories.Count(ctx, learnerID)
		if err != nil {
			return fmt.Errorf("count memories: %w", err)
		}

		fmt.Println("\nMemories")
		fmt.Println(strings.Repeat("─", 30))
		total := 0
		for _, cat := range memstore.Categories() {
			fmt.Printf("%-12s  %6d\n", cat, counts[cat])
			total += counts[cat]
		}
		fmt.Printf("%-12s  %6d\n", "total", total)
		return nil
	},
}

func init() {
	statsCmd.Flags().String("learner", "", "Learner ID (required)")
	_ = statsCmd.MarkFlagRequired("learner")
}
