package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brightpath/tutorcore/internal/skillgraph"
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Browse the skill graph",
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all skills (optionally filtered by grade)",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("skills")
		grade, _ := cmd.Flags().GetInt("grade")

		graph, err := skillgraph.LoadFile(path)
		if err != nil {
			return err
		}

		var skills []skillgraph.Skill
		if grade != 0 {
			skills = graph.ByGrade(grade)
			if len(skills) == 0 {
				return fmt.Errorf("no skills found for grade %d", grade)
			}
		} else {
			skills = graph.All()
		}

		// Header.
		fmt.Printf("%-30s  %-40s  %5s  %5s  %10s  %s\n",
			"ID", "Name", "Grade", "Order", "Difficulty", "Prerequisites")
		fmt.Println(strings.Repeat("─", 110))

		for _, s := range skills {
			name := s.Name
			if len(name) > 40 {
				name = name[:37] + "..."
			}
			fmt.Printf("%-30s  %-40s  %5d  %5d  %10.2f  %s\n",
				s.ID, name, s.GradeLevel, s.OrderInGrade, s.Difficulty,
				strings.Join(s.Prerequisites, ", "))
		}

		fmt.Printf("\n%d skills\n", len(skills))
		return nil
	},
}

func init() {
	skillListCmd.Flags().String("skills", "data/skills.json", "Path to the skill graph file")
	skillListCmd.Flags().Int("grade", 0, "Filter by grade level")

	skillCmd.AddCommand(skillListCmd)
}
