package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/dash"
	"github.com/brightpath/tutorcore/internal/learner"
	"github.com/brightpath/tutorcore/internal/questionbank"
	"github.com/brightpath/tutorcore/internal/skillgraph"
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Preview the next questions the scheduler would select for a learner",
	Long: `Run the selector against the learner's current state and print the picks.

This is a read-only developer tool: nothing is recorded, so repeated runs
return the same selections.`,
	RunE: runQuestions,
}

func init() {
	questionsCmd.Flags().String("learner", "", "Learner ID (required)")
	questionsCmd.Flags().Int("count", 5, "Number of questions to select")
	questionsCmd.Flags().String("skills", "data/skills.json", "Path to the skill graph file")
	questionsCmd.Flags().String("questions", "data/questions.json", "Path to the question bank file")
	_ = questionsCmd.MarkFlagRequired("learner")
}

func runQuestions(cmd *cobra.Command, args []string) error {
	learnerID, _ := cmd.Flags().GetString("learner")
	count, _ := cmd.Flags().GetInt("count")
	skillsPath, _ := cmd.Flags().GetString("skills")
	questionsPath, _ := cmd.Flags().GetString("questions")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	graph, err := skillgraph.LoadFile(skillsPath)
	if err != nil {
		return err
	}
	bank, err := questionbank.LoadFile(questionsPath)
	if err != nil {
		return err
	}

	st, err := openStore(cmd, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	ls := learner.NewSQLStore(st.DB())
	sched := dash.NewScheduler(graph, bank, ls, cfg.Dash, zap.NewNop())

	history, err := ls.History(ctx, learnerID, 200)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	exclude := make(map[string]bool, len(history))
	for _, a := range history {
		exclude[a.QuestionID] = true
	}

	selections, err := sched.SelectBatch(ctx, learnerID, time.Now(), count, exclude)
	if err != nil {
		return fmt.Errorf("select questions: %w", err)
	}
	if len(selections) == 0 {
		fmt.Println("No selectable questions: every eligible skill is consolidated or exhausted.")
		return nil
	}

	fmt.Printf("%-20s  %-30s  %10s  %s\n", "Question", "Skill", "Difficulty", "Fallback")
	fmt.Println(strings.Repeat("─", 75))
	for _, sel := range selections {
		fallback := ""
		if sel.Fallback {
			fallback = "yes"
		}
		fmt.Printf("%-20s  %-30s  %10.2f  %s\n",
			sel.Question.ID, sel.SkillID, sel.Question.Difficulty, fallback)
	}
	fmt.Printf("\n%d questions\n", len(selections))
	return nil
}
