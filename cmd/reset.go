package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brightpath/tutorcore/internal/memstore"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete a learner's state, history and memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		learnerID, _ := cmd.Flags().GetString("learner")
		confirmed, _ := cmd.Flags().GetBool("yes")
		if !confirmed {
			return fmt.Errorf("refusing to delete learner %q without --yes", learnerID)
		}

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
		stmts := map[string]string{
			"skill states": `DELETE FROM learner_skill_state WHERE learner_id = ?`,
			"attempts":     `DELETE FROM attempts WHERE learner_id = ?`,
			"sessions":     `DELETE FROM sessions WHERE learner_id = ?`,
			"assessments":  `DELETE FROM assessments WHERE learner_id = ?`,
		}
		for label, stmt := range stmts {
			res, err := st.DB().ExecContext(ctx, stmt, learnerID)
			if err != nil {
				return fmt.Errorf("delete %s: %w", label, err)
			}
			n, _ := res.RowsAffected()
			fmt.Printf("%s: %d rows deleted\n", label, n)
		}

		res, err := st.DB().ExecContext(ctx,
			`DELETE FROM memory_vectors WHERE learner_index = ?`,
			memstore.IndexName(learnerID))
		if err != nil {
			return fmt.Errorf("delete memories: %w", err)
		}
		n, _ := res.RowsAffected()
		fmt.Printf("memories: %d rows deleted\n", n)
		return nil
	},
}

func init() {
	resetCmd.Flags().String("learner", "", "Learner ID (required)")
	resetCmd.Flags().Bool("yes", false, "Confirm deletion")
	_ = resetCmd.MarkFlagRequired("learner")
}
