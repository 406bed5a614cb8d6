package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"doubtbot/internal/domain"
	"doubtbot/internal/prompt"
)

// CLI implements domain.Channel for an interactive terminal session. Doubts
// are typed directly; an image doubt is entered as "@<path> instruction",
// with the file read from disk. Mostly useful for trying out templates and
// providers without a bot token.
type CLI struct {
	bus       domain.MessageBus
	templates *prompt.Templates
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

type CLIOptions struct {
	Templates *prompt.Templates
	Logger    *slog.Logger
	In        io.Reader
	Out       io.Writer
}

func NewCLI(opts CLIOptions) *CLI {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &CLI{
		templates: opts.Templates,
		logger:    opts.Logger,
		in:        opts.In,
		out:       opts.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// MessageLimit is 0: terminal output needs no chunking.
func (c *CLI) MessageLimit() int { return 0 }

// Start runs the interactive loop and blocks until context is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound("cli", func(d domain.Delivery) {
		c.stopThinking()
		_, _ = fmt.Fprint(c.out, "\r\033[K") // Clear spinner line
		for _, part := range d.Parts {
			_, _ = fmt.Fprintln(c.out, part.Text)
		}
		_, _ = fmt.Fprint(c.out, "You> ")
	})

	_, _ = fmt.Fprintln(c.out, "DoubtBot CLI. Type a question and press Enter.")
	_, _ = fmt.Fprintln(c.out, "Prefix with @<image-path> to attach an image. Type /quit to exit.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}
		if line == "/help" {
			_, _ = fmt.Fprintln(c.out, c.templates.Help)
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}

		c.startThinking()
		c.bus.Publish(c.eventFromLine(line))
	}
}

// eventFromLine turns "@photo.jpg instruction" into a photo event and plain
// text into a text event.
func (c *CLI) eventFromLine(line string) domain.InboundEvent {
	ev := domain.InboundEvent{
		Channel:   "cli",
		ChatID:    "direct",
		SenderID:  "user",
		Timestamp: time.Now(),
	}

	if strings.HasPrefix(line, "@") {
		path, rest, _ := strings.Cut(line[1:], " ")
		ev.HasPhoto = true
		ev.Photo = domain.PhotoRef(path)
		caption := strings.TrimSpace(rest)
		if caption != "" {
			ev.PhotoCaption = &caption
		}
		return ev
	}

	ev.CommandArgs = strings.Fields(line)
	return ev
}

// FetchPhoto reads the referenced image from the local filesystem.
func (c *CLI) FetchPhoto(_ context.Context, ref domain.PhotoRef) ([]byte, string, error) {
	data, err := os.ReadFile(string(ref))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	return data, mimeFromExt(string(ref)), nil
}

func mimeFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-c.thinkStop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Solving...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }
