package channel

import (
	"bytes"
	"log/slog"
	"testing"

	"doubtbot/internal/prompt"
)

func newTestCLI() *CLI {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	return NewCLI(CLIOptions{Templates: prompt.Defaults(), Logger: logger, Out: &out})
}

func TestCLI_EventFromLineText(t *testing.T) {
	c := newTestCLI()

	ev := c.eventFromLine("solve question 5")
	if ev.Channel != "cli" || ev.ChatID != "direct" {
		t.Fatalf("identity fields wrong: %+v", ev)
	}
	if len(ev.CommandArgs) != 3 || ev.CommandArgs[2] != "5" {
		t.Fatalf("args = %v", ev.CommandArgs)
	}
	if ev.HasPhoto {
		t.Fatal("text line must not set HasPhoto")
	}
}

func TestCLI_EventFromLineImage(t *testing.T) {
	c := newTestCLI()

	ev := c.eventFromLine("@problem.png explain the circled part")
	if !ev.HasPhoto || ev.Photo != "problem.png" {
		t.Fatalf("photo fields wrong: %+v", ev)
	}
	if ev.PhotoCaption == nil || *ev.PhotoCaption != "explain the circled part" {
		t.Fatalf("caption = %v", ev.PhotoCaption)
	}
}

func TestCLI_EventFromLineImageNoInstruction(t *testing.T) {
	c := newTestCLI()

	ev := c.eventFromLine("@problem.png")
	if !ev.HasPhoto {
		t.Fatal("HasPhoto not set")
	}
	if ev.PhotoCaption != nil {
		t.Fatalf("expected nil caption, got %q", *ev.PhotoCaption)
	}
}

func TestMimeFromExt(t *testing.T) {
	cases := map[string]string{
		"a.png":    "image/png",
		"b.PNG":    "image/png",
		"c.webp":   "image/webp",
		"d.jpg":    "image/jpeg",
		"e.jpeg":   "image/jpeg",
		"no-ext":   "image/jpeg",
		"f.gif":    "image/gif",
		"g.qoi":    "image/jpeg",
		"dir/h.py": "image/jpeg",
	}
	for path, want := range cases {
		if got := mimeFromExt(path); got != want {
			t.Errorf("mimeFromExt(%q) = %q, want %q", path, got, want)
		}
	}
}
