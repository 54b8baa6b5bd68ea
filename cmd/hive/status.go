package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/pkg/models"
)

var statusDBPath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the last run",
	Long: `Status reads the state database and prints the tasks and agents from
the most recent run, including what failed and why dependents were
cancelled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := statusDBPath
		if dbPath == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			dbPath = state.ProjectDBPath(cwd)
		}
		if _, err := os.Stat(dbPath); err != nil {
			return fmt.Errorf("no state database at %s: run a graph first", dbPath)
		}

		db, err := state.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}

		tasks, err := db.LoadTasks()
		if err != nil {
			return err
		}
		agents, err := db.LoadAgents()
		if err != nil {
			return err
		}

		printStatus(tasks, agents)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusDBPath, "db", "", "State database path (default .hive/state.db)")
}

func printStatus(tasks []*models.Task, agents []*models.AgentInstance) {
	counts := make(map[models.TaskStatus]int)
	for _, t := range tasks {
		counts[t.Status]++
	}

	fmt.Printf("Tasks: %d total", len(tasks))
	for _, st := range []models.TaskStatus{
		models.TaskStatusPending,
		models.TaskStatusReady,
		models.TaskStatusRunning,
		models.TaskStatusSucceeded,
		models.TaskStatusFailed,
		models.TaskStatusCancelled,
	} {
		if counts[st] > 0 {
			fmt.Printf(", %d %s", counts[st], st)
		}
	}
	fmt.Println()

	for _, t := range tasks {
		fmt.Printf("  [%-9s] %s  %s\n", t.Status, shortID(t.ID), t.Description)
		if t.ErrorDetail != "" {
			fmt.Printf("              %s\n", t.ErrorDetail)
		}
	}

	if len(agents) > 0 {
		fmt.Printf("\nAgents:\n")
		for _, a := range agents {
			line := fmt.Sprintf("  [%-10s] %s (%s)", a.State, a.ID, a.Role)
			if a.TaskID != "" {
				line += " task " + shortID(a.TaskID)
			}
			fmt.Println(line)
		}
	}
}
