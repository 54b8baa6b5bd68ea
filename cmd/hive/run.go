package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/agentloop"
	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/internal/graphfile"
	"github.com/ShayCichocki/hive/internal/mailbox"
	"github.com/ShayCichocki/hive/internal/protocol"
	"github.com/ShayCichocki/hive/internal/state"
	"github.com/ShayCichocki/hive/internal/store"
	"github.com/ShayCichocki/hive/internal/supervisor"
	"github.com/ShayCichocki/hive/internal/think"
	"github.com/ShayCichocki/hive/internal/trace"
	"github.com/ShayCichocki/hive/pkg/models"
)

var (
	runTeammates int
	runVerbose   bool
	runResume    bool
	runDBPath    string
	runDebugLog  string
)

var runCmd = &cobra.Command{
	Use:   "run <graph.yaml>",
	Short: "Run a task graph with a team of agents",
	Long: `Run loads a task graph from a YAML file and executes it.

The graph file lists tasks with descriptions and dependencies:

  name: release prep
  tasks:
    - name: changelog
      description: Draft the changelog for v2
    - name: notes
      description: Write the release notes
      depends_on: [changelog]

With --resume, tasks from an interrupted run are restored from the state
database instead of loading the graph file again; tasks that were mid-flight
go back to ready.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runTeammates, "teammates", 0, "Number of teammate agents (default from config)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print the colorized run trace")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Resume an interrupted run from the state database")
	runCmd.Flags().StringVar(&runDBPath, "db", "", "State database path (default .hive/state.db)")
	runCmd.Flags().StringVar(&runDebugLog, "debug-log", "", "Write a debug log to this file")
}

func runRun(cmd *cobra.Command, args []string) error {
	if !runResume && len(args) == 0 {
		return fmt.Errorf("a graph file is required unless --resume is set")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runTeammates > 0 {
		cfg.Team.Teammates = runTeammates
	}
	if runVerbose {
		cfg.Logging.Verbose = true
	}
	if runDBPath != "" {
		cfg.Storage.DBPath = runDBPath
	}
	if runDebugLog != "" {
		cfg.Logging.DebugLog = runDebugLog
	}

	apiKey, err := config.GetAPIKey(cfg)
	if err != nil {
		return err
	}

	debug, err := trace.NewDebugLogger(cfg.Logging.DebugLog)
	if err != nil {
		return err
	}
	defer debug.Close()

	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		dbPath = state.ProjectDBPath(cwd)
	}
	db, err := state.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	st := store.New()
	st.SetDebugLog(debug.Log)

	var teammateIDs []string
	if runResume {
		if err := restoreTasks(st, db); err != nil {
			return err
		}
		// Reuse the persisted roster so checkpointed inboxes find their
		// owners again.
		agents, err := db.LoadAgents()
		if err != nil {
			return err
		}
		for _, a := range agents {
			if a.Role == models.RoleTeammate {
				teammateIDs = append(teammateIDs, a.ID)
			}
		}
	} else {
		// A fresh run replaces whatever the last one left behind.
		if err := db.ClearTasks(); err != nil {
			return err
		}
		if err := db.ClearAgents(); err != nil {
			return err
		}
		if err := db.ClearMessages(); err != nil {
			return err
		}
	}
	st.SetPersister(db)

	if !runResume {
		gf, err := graphfile.Load(args[0])
		if err != nil {
			return err
		}
		if _, err := graphfile.Apply(gf, st); err != nil {
			return err
		}
	}

	router := mailbox.NewRouter()
	router.SetDebugLog(debug.Log)
	engine := protocol.NewEngine(router, protocol.Options{
		ResponseDeadline: cfg.Protocol.ResponseDeadline,
		MaxOutstanding:   cfg.Protocol.MaxOutstanding,
	})
	engine.SetDebugLog(debug.Log)

	runTrace := trace.NewRunTrace(os.Stdout, cfg.Logging.Verbose)
	runTrace.Header("hive run")

	thinker, err := think.NewClient(think.Config{
		Model:  anthropic.Model(cfg.Anthropic.Model),
		APIKey: apiKey,
	})
	if err != nil {
		return err
	}

	factory := func(agentID string) supervisor.TaskRunner {
		return agentloop.NewRunner(agentloop.Config{
			Thinker:     thinker,
			Handlers:    agentloop.MailboxHandlers(agentID, engine, router),
			Router:      router,
			Engine:      engine,
			Trace:       runTrace,
			MaxSteps:    cfg.Loop.MaxSteps,
			StepTimeout: cfg.Loop.StepTimeout,
		})
	}

	sup := supervisor.New(st, router, engine, factory, supervisor.Options{
		Teammates:        cfg.Team.Teammates,
		TeammateIDs:      teammateIDs,
		FailureThreshold: cfg.Team.FailureThreshold,
		PollInterval:     cfg.Loop.PollInterval,
	})
	sup.SetDebugLog(debug.Log)
	sup.SetRosterPersister(db)
	sup.SetMailPersister(db)
	if runResume {
		sup.SetMailLoader(db)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go printEvents(sup)

	start := time.Now()
	summary, err := sup.Run(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	fmt.Printf("\nRun finished in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("  tasks:     %d total, %d succeeded, %d failed, %d cancelled\n",
		summary.Total, summary.Succeeded, summary.Failed, summary.Cancelled)
	if summary.ExpiredConversations > 0 {
		fmt.Printf("  expired:   %d unanswered requests\n", summary.ExpiredConversations)
	}
	in, out := thinker.Tracker().Total()
	fmt.Printf("  tokens:    %d in, %d out (%d calls)\n", in, out, thinker.Tracker().Calls())
	if summary.ThresholdTripped {
		fmt.Println("  aborted: failure threshold exceeded")
	}
	for _, t := range summary.Tasks {
		if t.ErrorDetail != "" {
			fmt.Printf("  %s %s: %s\n", t.Status, shortID(t.ID), t.ErrorDetail)
		}
	}

	if summary.Failed > 0 || summary.ThresholdTripped {
		os.Exit(1)
	}
	return nil
}

// restoreTasks loads persisted tasks back into the store, dependencies first.
func restoreTasks(st *store.Store, db *state.DB) error {
	tasks, err := db.LoadTasks()
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("nothing to resume: state database has no tasks")
	}
	restored := 0
	for _, t := range tasks {
		if err := st.Restore(t); err != nil {
			return fmt.Errorf("restore task %s: %w", t.ID, err)
		}
		restored++
	}
	fmt.Printf("Resumed %d tasks from %s\n", restored, db.Path())
	return nil
}

// printEvents consumes supervisor events until the channel closes.
func printEvents(sup *supervisor.Supervisor) {
	for evt := range sup.Events() {
		switch evt.Type {
		case supervisor.EventAgentSpawned:
			fmt.Printf("+ %s\n", evt.Message)
		case supervisor.EventTaskStarted:
			fmt.Printf("> [%s] %s\n", evt.AgentID, evt.Message)
		case supervisor.EventTaskCompleted:
			fmt.Printf("✓ [%s] task %s done\n", evt.AgentID, shortID(evt.TaskID))
		case supervisor.EventTaskFailed:
			fmt.Printf("✗ [%s] task %s failed: %s\n", evt.AgentID, shortID(evt.TaskID), evt.Message)
		case supervisor.EventConversationExpired:
			fmt.Printf("! %s\n", evt.Message)
		case supervisor.EventThresholdTripped:
			fmt.Printf("! %s\n", evt.Message)
		case supervisor.EventSessionDone:
			fmt.Printf("= %s\n", evt.Message)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
