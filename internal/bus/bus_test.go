package bus

import (
	"log/slog"
	"os"
	"testing"

	"doubtbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestBus_PublishAndSubscribe(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	b.Publish(domain.InboundEvent{Channel: "telegram", ChatID: "1", CommandArgs: []string{"solve", "this"}})

	ev := <-b.Subscribe()
	if ev.Channel != "telegram" {
		t.Fatalf("expected channel telegram, got %q", ev.Channel)
	}
	if len(ev.CommandArgs) != 2 {
		t.Fatalf("expected 2 args, got %d", len(ev.CommandArgs))
	}
}

func TestBus_OutboundRouting(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	var got domain.Delivery
	b.OnOutbound("telegram", func(d domain.Delivery) { got = d })

	b.SendOutbound(domain.Delivery{
		Channel: "telegram",
		ChatID:  "42",
		Parts:   []domain.OutboundDescriptor{{Index: 0, Text: "hi"}},
	})

	if got.ChatID != "42" {
		t.Fatalf("expected chat 42, got %q", got.ChatID)
	}
	if len(got.Parts) != 1 || got.Parts[0].Text != "hi" {
		t.Fatalf("unexpected parts: %+v", got.Parts)
	}
}

func TestBus_OutboundUnknownChannel(t *testing.T) {
	b := New(10, testLogger())
	defer b.Close()

	// Must not panic when no handler is registered.
	b.SendOutbound(domain.Delivery{Channel: "nope", ChatID: "1"})
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := New(10, testLogger())
	b.Close()

	// Must not panic.
	b.Publish(domain.InboundEvent{Channel: "telegram"})
}
