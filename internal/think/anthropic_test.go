package think

import (
	"sync"
	"testing"

	"github.com/ShayCichocki/hive/internal/agentloop"
)

func TestNewClient_RequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewClient(Config{}); err == nil {
		t.Error("NewClient without a key succeeded")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Config{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("NewClient = %v", err)
	}
	if c.Model() == "" {
		t.Error("no default model selected")
	}
	if c.Tracker() == nil {
		t.Error("no token tracker attached")
	}
}

func TestTokenTracker(t *testing.T) {
	tracker := NewTokenTracker()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Add(100, 25)
		}()
	}
	wg.Wait()

	input, output := tracker.Total()
	if input != 1000 || output != 250 {
		t.Errorf("Total = (%d, %d), want (1000, 250)", input, output)
	}
	if tracker.Calls() != 10 {
		t.Errorf("Calls = %d, want 10", tracker.Calls())
	}
}

func TestTeamworkTools_CoverLoopActions(t *testing.T) {
	tools := TeamworkTools()
	names := make(map[string]bool, len(tools))
	for _, tool := range tools {
		if tool.OfTool == nil {
			t.Fatal("tool union has no tool variant")
		}
		names[tool.OfTool.Name] = true
	}
	// Every tool offered to the model must have a loop handler behind it.
	handlers := agentloop.MailboxHandlers("agent", nil, nil)
	for name := range names {
		if _, ok := handlers[name]; !ok {
			t.Errorf("tool %q has no matching action handler", name)
		}
	}
	for name := range handlers {
		if !names[name] {
			t.Errorf("handler %q is not offered as a tool", name)
		}
	}
}
