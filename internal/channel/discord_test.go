package channel

import (
	"log/slog"
	"os"
	"testing"

	"doubtbot/internal/prompt"

	"github.com/bwmarrin/discordgo"
)

func newTestDiscord() *Discord {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return NewDiscord(DiscordOptions{
		Token:     "test",
		Templates: prompt.Defaults(),
		Logger:    logger,
	})
}

func discordMessage(content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ChannelID: "chan-1",
			Author:    &discordgo.User{ID: "user-1"},
			Content:   content,
		},
	}
}

func TestDiscord_EventFromCommand(t *testing.T) {
	d := newTestDiscord()

	m := discordMessage("!doubt solve question 5")
	ev, ok := d.eventFromMessage(m, m.Content, nil)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Channel != "discord" || ev.ChatID != "chan-1" || ev.SenderID != "user-1" {
		t.Fatalf("identity fields wrong: %+v", ev)
	}
	if len(ev.CommandArgs) != 3 || ev.CommandArgs[0] != "solve" {
		t.Fatalf("args = %v", ev.CommandArgs)
	}
}

func TestDiscord_AttachmentCaptionStripsPrefix(t *testing.T) {
	d := newTestDiscord()

	m := discordMessage("!doubt explain the marked part")
	att := &discordgo.MessageAttachment{URL: "https://cdn.example/img.png", ContentType: "image/png"}
	ev, ok := d.eventFromMessage(m, m.Content, att)
	if !ok {
		t.Fatal("expected an event")
	}
	if !ev.HasPhoto || ev.Photo != "https://cdn.example/img.png" {
		t.Fatalf("photo fields wrong: %+v", ev)
	}
	if ev.PhotoCaption == nil || *ev.PhotoCaption != "explain the marked part" {
		t.Fatalf("caption = %v", ev.PhotoCaption)
	}
}

func TestDiscord_UninvokedContentIsIgnored(t *testing.T) {
	d := newTestDiscord()

	// An image posted without the command is ordinary chat traffic, even
	// when the text mentions doubts.
	for _, content := range []string{"", "look at this", "!doubtful claim", "doubt about trig"} {
		if d.invokes(content) {
			t.Fatalf("%q must not invoke the pipeline", content)
		}
	}
	for _, content := range []string{"!doubt", "!doubt solve this"} {
		if !d.invokes(content) {
			t.Fatalf("%q must invoke the pipeline", content)
		}
	}
}

func TestDiscord_BareCommandWithAttachmentHasEmptyCaption(t *testing.T) {
	d := newTestDiscord()

	// A bare "!doubt" with an image still invokes; the empty caption makes
	// the resolver answer with the photo usage prompt.
	m := discordMessage("!doubt")
	att := &discordgo.MessageAttachment{URL: "https://cdn.example/img.jpg", ContentType: "image/jpeg"}
	ev, ok := d.eventFromMessage(m, m.Content, att)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.PhotoCaption == nil || *ev.PhotoCaption != "" {
		t.Fatalf("caption = %v", ev.PhotoCaption)
	}
}

func TestDiscord_ReplyToImageMessage(t *testing.T) {
	d := newTestDiscord()

	m := discordMessage("!doubt what about part b")
	m.ReferencedMessage = &discordgo.Message{
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn.example/earlier.png", ContentType: "image/png"},
		},
	}
	ev, ok := d.eventFromMessage(m, m.Content, nil)
	if !ok {
		t.Fatal("expected an event")
	}
	if !ev.IsReplyToPhoto || ev.HasPhoto {
		t.Fatalf("flags wrong: %+v", ev)
	}
	if ev.Photo != "https://cdn.example/earlier.png" {
		t.Fatalf("photo ref = %q", ev.Photo)
	}
	if ev.ReplyText == nil || *ev.ReplyText != "what about part b" {
		t.Fatalf("reply text = %v", ev.ReplyText)
	}
}

func TestFirstImageAttachment(t *testing.T) {
	atts := []*discordgo.MessageAttachment{
		{URL: "a.pdf", ContentType: "application/pdf"},
		{URL: "b.png", ContentType: "image/png"},
		{URL: "c.jpg", ContentType: "image/jpeg"},
	}
	got := firstImageAttachment(atts)
	if got == nil || got.URL != "b.png" {
		t.Fatalf("firstImageAttachment = %+v", got)
	}
	if firstImageAttachment(nil) != nil {
		t.Fatal("nil attachments must return nil")
	}
}
