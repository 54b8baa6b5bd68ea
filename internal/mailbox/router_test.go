package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/hive/pkg/models"
)

func note(from, to, text string) *models.Message {
	return &models.Message{
		From:    from,
		To:      to,
		Kind:    models.KindNotification,
		Payload: models.Payload{Note: text},
	}
}

func TestSend_UnknownRecipient(t *testing.T) {
	r := NewRouter()
	r.Register("alice")

	if _, err := r.Send(note("alice", "bob", "hi")); !errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("Send to unregistered agent = %v, want ErrUnknownRecipient", err)
	}
}

func TestSendReceive_FIFOPerSender(t *testing.T) {
	r := NewRouter()
	r.Register("alice")
	r.Register("bob")

	for i := 0; i < 5; i++ {
		if _, err := r.Send(note("alice", "bob", fmt.Sprintf("msg %d", i))); err != nil {
			t.Fatalf("Send = %v", err)
		}
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		msg, err := r.Receive(ctx, "bob", time.Second)
		if err != nil {
			t.Fatalf("Receive = %v", err)
		}
		if msg == nil {
			t.Fatal("Receive returned nil with messages queued")
		}
		want := fmt.Sprintf("msg %d", i)
		if msg.Payload.Note != want {
			t.Errorf("message %d = %q, want %q (send order)", i, msg.Payload.Note, want)
		}
		if msg.Seq != int64(i+1) {
			t.Errorf("message %d Seq = %d, want %d", i, msg.Seq, i+1)
		}
	}
}

func TestReceive_TimeoutIsNotAnError(t *testing.T) {
	r := NewRouter()
	r.Register("bob")

	start := time.Now()
	msg, err := r.Receive(context.Background(), "bob", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive timeout = %v, want nil error", err)
	}
	if msg != nil {
		t.Fatalf("Receive timeout = %v, want nil message", msg)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Receive returned after %s, want it to wait for the timeout", elapsed)
	}
}

func TestReceive_WakesOnArrival(t *testing.T) {
	r := NewRouter()
	r.Register("bob")

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Send(note("alice-ghost", "bob", "late"))
	}()

	msg, err := r.Receive(context.Background(), "bob", time.Second)
	if err != nil {
		t.Fatalf("Receive = %v", err)
	}
	if msg == nil || msg.Payload.Note != "late" {
		t.Fatalf("Receive = %v, want the late message", msg)
	}
}

func TestReceive_ContextCancellation(t *testing.T) {
	r := NewRouter()
	r.Register("bob")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := r.Receive(ctx, "bob", time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Receive after cancel = %v, want context.Canceled", err)
	}
}

func TestReceive_UnknownAgent(t *testing.T) {
	r := NewRouter()
	if _, err := r.Receive(context.Background(), "ghost", time.Millisecond); !errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("Receive for unknown agent = %v, want ErrUnknownRecipient", err)
	}
}

func TestAtMostOnceDelivery(t *testing.T) {
	r := NewRouter()
	r.Register("bob")
	r.Send(note("alice-ghost", "bob", "only once"))

	ctx := context.Background()
	first, err := r.Receive(ctx, "bob", time.Second)
	if err != nil || first == nil {
		t.Fatalf("first Receive = (%v, %v)", first, err)
	}
	second, err := r.Receive(ctx, "bob", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("second Receive = %v", err)
	}
	if second != nil {
		t.Error("message delivered twice")
	}

	audit := r.Audit("bob")
	if len(audit) != 1 || audit[0].Payload.Note != "only once" {
		t.Errorf("Audit = %v, want the consumed message retained", audit)
	}
}

func TestBroadcast_SkipsSender(t *testing.T) {
	r := NewRouter()
	for _, id := range []string{"alice", "bob", "carol"} {
		r.Register(id)
	}

	if _, err := r.Send(note("alice", models.Broadcast, "all hands")); err != nil {
		t.Fatalf("broadcast Send = %v", err)
	}

	ctx := context.Background()
	for _, id := range []string{"bob", "carol"} {
		msg, err := r.Receive(ctx, id, time.Second)
		if err != nil || msg == nil {
			t.Fatalf("Receive for %s = (%v, %v)", id, msg, err)
		}
		if msg.To != id {
			t.Errorf("broadcast copy To = %q, want %q", msg.To, id)
		}
	}

	if msg, _ := r.Receive(ctx, "alice", 20*time.Millisecond); msg != nil {
		t.Error("sender received its own broadcast")
	}
}

func TestConcurrentSenders_PerSenderOrderHolds(t *testing.T) {
	r := NewRouter()
	r.Register("sink")

	const senders = 4
	const perSender = 25

	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if _, err := r.Send(note(sender, "sink", fmt.Sprintf("%s:%d", sender, i))); err != nil {
					t.Errorf("Send = %v", err)
				}
			}
		}(fmt.Sprintf("s%d", s))
	}
	wg.Wait()

	ctx := context.Background()
	lastPerSender := make(map[string]int)
	var lastSeq int64
	for i := 0; i < senders*perSender; i++ {
		msg, err := r.Receive(ctx, "sink", time.Second)
		if err != nil || msg == nil {
			t.Fatalf("Receive %d = (%v, %v)", i, msg, err)
		}
		if msg.Seq <= lastSeq {
			t.Errorf("Seq went backwards: %d after %d", msg.Seq, lastSeq)
		}
		lastSeq = msg.Seq

		var n int
		fmt.Sscanf(msg.Payload.Note, msg.From+":%d", &n)
		if last, seen := lastPerSender[msg.From]; seen && n != last+1 {
			t.Errorf("sender %s out of order: %d after %d", msg.From, n, last)
		}
		lastPerSender[msg.From] = n
	}
}

func TestUnregister_DropsQueue(t *testing.T) {
	r := NewRouter()
	r.Register("bob")
	r.Send(note("x", "bob", "pending"))

	r.Unregister("bob")
	if r.Known("bob") {
		t.Error("Known after Unregister = true")
	}
	if _, err := r.Receive(context.Background(), "bob", time.Millisecond); !errors.Is(err, ErrUnknownRecipient) {
		t.Errorf("Receive after Unregister = %v, want ErrUnknownRecipient", err)
	}
}

func TestPending_CopiesQueue(t *testing.T) {
	r := NewRouter()
	r.Register("bob")
	r.Send(note("x", "bob", "one"))
	r.Send(note("x", "bob", "two"))

	pending := r.Pending("bob")
	if len(pending) != 2 {
		t.Fatalf("Pending = %d messages, want 2", len(pending))
	}
	pending[0].Payload.Note = "mutated"

	msg, _ := r.Receive(context.Background(), "bob", time.Second)
	if msg.Payload.Note != "one" {
		t.Error("mutating Pending copy affected the queue")
	}
}
