package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"doubtbot/internal/bus"
	"doubtbot/internal/domain"
	"doubtbot/internal/prompt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeCompleter returns a canned answer or error and records the last request.
type fakeCompleter struct {
	mu      sync.Mutex
	answer  string
	err     error
	lastReq domain.CompletionRequest
	calls   int
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	f.calls++
	return f.answer, f.err
}

func (f *fakeCompleter) Healthy(ctx context.Context) error { return nil }

// fakeChannel implements domain.Channel and domain.PhotoFetcher.
type fakeChannel struct {
	name     string
	limit    int
	photo    []byte
	photoErr error
	fetched  domain.PhotoRef
}

func (f *fakeChannel) Name() string                                         { return f.name }
func (f *fakeChannel) Start(ctx context.Context, b domain.MessageBus) error { return nil }
func (f *fakeChannel) Stop() error                                          { return nil }
func (f *fakeChannel) MessageLimit() int                                    { return f.limit }

func (f *fakeChannel) FetchPhoto(ctx context.Context, ref domain.PhotoRef) ([]byte, string, error) {
	f.fetched = ref
	if f.photoErr != nil {
		return nil, "", f.photoErr
	}
	return f.photo, "image/jpeg", nil
}

func newTestController(completer domain.Completer, ch domain.Channel, b domain.MessageBus) *Controller {
	tpl := prompt.Defaults()
	c := NewController(ControllerConfig{
		Resolver:   NewResolver("/doubt"),
		Composer:   NewComposer(tpl),
		Dispatcher: NewDispatcher(tpl),
		Completer:  completer,
		Bus:        b,
		Logger:     testLogger(),
	})
	if ch != nil {
		c.RegisterChannel(ch)
	}
	return c
}

// --- Handle ---

func TestHandle_TextDoubtAnswered(t *testing.T) {
	fc := &fakeCompleter{answer: "x = -2 or x = -3"}
	ch := &fakeChannel{name: "telegram", limit: 4000}
	c := newTestController(fc, ch, nil)

	parts := c.Handle(context.Background(), domain.InboundEvent{
		Channel:     "telegram",
		ChatID:      "1",
		CommandArgs: []string{"solve", "x²+5x+6=0"},
	})

	if len(parts) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(parts))
	}
	if !strings.Contains(parts[0].Text, "x = -2 or x = -3") {
		t.Fatalf("answer text missing: %q", parts[0].Text)
	}
	if !strings.Contains(fc.lastReq.Instruction, "solve x²+5x+6=0") {
		t.Fatalf("completer did not receive the instruction: %q", fc.lastReq.Instruction)
	}
	if fc.lastReq.Preamble == "" {
		t.Fatal("completer request missing preamble")
	}
	if fc.lastReq.ImageBytes != nil {
		t.Fatal("text doubt must not carry image bytes")
	}
}

func TestHandle_ImageDoubtFetchesPhoto(t *testing.T) {
	fc := &fakeCompleter{answer: "Q5: 42"}
	ch := &fakeChannel{name: "telegram", limit: 4000, photo: []byte{1, 2, 3}}
	c := newTestController(fc, ch, nil)

	caption := "/doubt solve Q no 5"
	parts := c.Handle(context.Background(), domain.InboundEvent{
		Channel:      "telegram",
		ChatID:       "1",
		HasPhoto:     true,
		PhotoCaption: &caption,
		Photo:        "file-9",
	})

	if len(parts) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(parts))
	}
	if ch.fetched != "file-9" {
		t.Fatalf("expected photo file-9 fetched, got %q", ch.fetched)
	}
	if string(fc.lastReq.ImageBytes) != string([]byte{1, 2, 3}) {
		t.Fatal("image bytes not forwarded to completer")
	}
	if fc.lastReq.ImageMIME != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %q", fc.lastReq.ImageMIME)
	}
}

func TestHandle_MissingInstructionRejectedWithoutInvoking(t *testing.T) {
	fc := &fakeCompleter{answer: "should not be called"}
	ch := &fakeChannel{name: "telegram", limit: 4000}
	c := newTestController(fc, ch, nil)

	parts := c.Handle(context.Background(), domain.InboundEvent{Channel: "telegram", ChatID: "1"})

	if len(parts) != 1 {
		t.Fatalf("expected 1 error descriptor, got %d", len(parts))
	}
	if parts[0].Text != prompt.Defaults().Usage {
		t.Fatalf("expected usage text, got %q", parts[0].Text)
	}
	if fc.calls != 0 {
		t.Fatalf("completer must not be invoked on rejection, got %d calls", fc.calls)
	}
}

func TestHandle_UpstreamFailureSingleDescriptor(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("quota exceeded")}
	ch := &fakeChannel{name: "telegram", limit: 4000}
	c := newTestController(fc, ch, nil)

	parts := c.Handle(context.Background(), domain.InboundEvent{
		Channel:     "telegram",
		ChatID:      "1",
		CommandArgs: []string{"solve", "this"},
	})

	if len(parts) != 1 {
		t.Fatalf("expected exactly one descriptor, got %d", len(parts))
	}
	if parts[0].Text != prompt.Defaults().UpstreamFailure {
		t.Fatalf("expected upstream failure text, got %q", parts[0].Text)
	}
}

func TestHandle_EmptyAnswerIsUpstreamFailure(t *testing.T) {
	fc := &fakeCompleter{answer: "   \n "}
	ch := &fakeChannel{name: "telegram", limit: 4000}
	c := newTestController(fc, ch, nil)

	parts := c.Handle(context.Background(), domain.InboundEvent{
		Channel:     "telegram",
		ChatID:      "1",
		CommandArgs: []string{"solve"},
	})
	if parts[0].Text != prompt.Defaults().UpstreamFailure {
		t.Fatalf("blank answer should reject as upstream failure, got %q", parts[0].Text)
	}
}

func TestHandle_PhotoFetchFailure(t *testing.T) {
	fc := &fakeCompleter{answer: "unused"}
	ch := &fakeChannel{name: "telegram", limit: 4000, photoErr: errors.New("file gone")}
	c := newTestController(fc, ch, nil)

	caption := "/doubt solve"
	parts := c.Handle(context.Background(), domain.InboundEvent{
		Channel:      "telegram",
		ChatID:       "1",
		HasPhoto:     true,
		PhotoCaption: &caption,
		Photo:        "f",
	})
	if parts[0].Text != prompt.Defaults().UpstreamFailure {
		t.Fatalf("fetch failure should reject as upstream failure, got %q", parts[0].Text)
	}
	if fc.calls != 0 {
		t.Fatal("completer must not be invoked when the photo fetch fails")
	}
}

func TestHandle_LongAnswerChunkedForChannelLimit(t *testing.T) {
	fc := &fakeCompleter{answer: longAnswer(9000)}
	ch := &fakeChannel{name: "telegram", limit: 4000}
	c := newTestController(fc, ch, nil)

	parts := c.Handle(context.Background(), domain.InboundEvent{
		Channel:     "telegram",
		ChatID:      "1",
		CommandArgs: []string{"solve", "all"},
	})
	if len(parts) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(parts))
	}
}

// --- Run ---

func TestRun_DeliversThroughBus(t *testing.T) {
	fc := &fakeCompleter{answer: "done"}
	ch := &fakeChannel{name: "telegram", limit: 4000}

	b := bus.New(10, testLogger())
	defer b.Close()

	got := make(chan domain.Delivery, 1)
	b.OnOutbound("telegram", func(d domain.Delivery) { got <- d })

	c := newTestController(fc, ch, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	b.Publish(domain.InboundEvent{Channel: "telegram", ChatID: "7", CommandArgs: []string{"hi"}})

	select {
	case d := <-got:
		if d.ChatID != "7" {
			t.Fatalf("expected chat 7, got %q", d.ChatID)
		}
		if len(d.Parts) != 1 || !strings.Contains(d.Parts[0].Text, "done") {
			t.Fatalf("unexpected delivery: %+v", d.Parts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestRun_IndependentConcurrentEvents(t *testing.T) {
	fc := &fakeCompleter{answer: "ok"}
	ch := &fakeChannel{name: "telegram", limit: 4000}

	b := bus.New(10, testLogger())
	defer b.Close()

	var mu sync.Mutex
	chats := make(map[string]int)
	done := make(chan struct{}, 3)
	b.OnOutbound("telegram", func(d domain.Delivery) {
		mu.Lock()
		chats[d.ChatID]++
		mu.Unlock()
		done <- struct{}{}
	})

	c := newTestController(fc, ch, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	for _, id := range []string{"a", "b", "c"} {
		b.Publish(domain.InboundEvent{Channel: "telegram", ChatID: id, CommandArgs: []string{"q"}})
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d deliveries", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []string{"a", "b", "c"} {
		if chats[id] != 1 {
			t.Fatalf("chat %s delivered %d times", id, chats[id])
		}
	}
}
