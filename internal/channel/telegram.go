package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"doubtbot/internal/domain"
	"doubtbot/internal/prompt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramDefaultMsgLimit = 4000
	telegramMaxSendRetries  = 3
	telegramFetchTimeout    = 60 * time.Second
)

// Telegram implements domain.Channel over the Bot API long-polling transport.
// It also implements domain.PhotoFetcher: photo references are Telegram file
// IDs resolved through getFile.
type Telegram struct {
	token     string
	command   string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	parseMode string
	msgLimit  int

	bot       *tgbotapi.BotAPI
	bus       domain.MessageBus
	templates *prompt.Templates
	logger    *slog.Logger
	client    *http.Client
}

type TelegramOptions struct {
	Token        string
	Command      string
	AllowFrom    []string // User IDs as strings
	ParseMode    string
	MessageQuota int
	Templates    *prompt.Templates
	Logger       *slog.Logger
}

func NewTelegram(opts TelegramOptions) *Telegram {
	var allowed []int64
	for _, s := range opts.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if opts.Command == "" {
		opts.Command = "/doubt"
	}
	if opts.ParseMode == "" {
		opts.ParseMode = "Markdown"
	}
	if opts.MessageQuota <= 0 {
		opts.MessageQuota = telegramDefaultMsgLimit
	}
	return &Telegram{
		token:     opts.Token,
		command:   opts.Command,
		allowFrom: allowed,
		parseMode: opts.ParseMode,
		msgLimit:  opts.MessageQuota,
		templates: opts.Templates,
		logger:    opts.Logger,
		client:    &http.Client{Timeout: telegramFetchTimeout},
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) MessageLimit() int { return t.msgLimit }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(d domain.Delivery) {
		chatID, err := strconv.ParseInt(d.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", d.ChatID, "err", err)
			return
		}
		// Parts are already sized for this channel; send them in order.
		for _, part := range d.Parts {
			t.sendChunk(chatID, part.Text)
		}
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error {
	return nil
}

// FetchPhoto resolves a Telegram file ID to its bytes via getFile.
func (t *Telegram) FetchPhoto(ctx context.Context, ref domain.PhotoRef) ([]byte, string, error) {
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: string(ref)})
	if err != nil {
		return nil, "", fmt.Errorf("telegram getFile: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", file.Link(t.token), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram file download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("telegram file download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("telegram file download: %w", err)
	}
	// Telegram re-encodes photo uploads as JPEG.
	return data, "image/jpeg", nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", msg.From.UserName,
		)
		return
	}

	if ev, ok := t.eventFromMessage(msg); ok {
		t.logger.Info("telegram doubt received",
			"user_id", userID,
			"chat_id", chatID,
			"has_photo", ev.HasPhoto,
			"reply_to_photo", ev.IsReplyToPhoto,
		)
		typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
		_, _ = t.bot.Send(typing)
		t.bus.Publish(ev)
		return
	}

	if msg.IsCommand() {
		t.handleCommand(chatID, msg)
	}
}

// eventFromMessage maps a Telegram message onto an inbound event. Photo
// messages whose caption invokes the doubt command and text invocations of
// the command produce events; everything else is left to handleCommand or
// ignored.
func (t *Telegram) eventFromMessage(msg *tgbotapi.Message) (domain.InboundEvent, bool) {
	ev := domain.InboundEvent{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		SenderID:  strconv.FormatInt(msg.From.ID, 10),
		Timestamp: time.Unix(int64(msg.Date), 0),
	}

	if len(msg.Photo) > 0 {
		if !t.captionInvokes(msg.Caption) {
			return domain.InboundEvent{}, false
		}
		ev.HasPhoto = true
		ev.Photo = domain.PhotoRef(largestPhoto(msg.Photo))
		caption := msg.Caption
		ev.PhotoCaption = &caption
		return ev, true
	}

	if !msg.IsCommand() || "/"+msg.Command() != t.command {
		return domain.InboundEvent{}, false
	}

	ev.CommandArgs = strings.Fields(msg.CommandArguments())

	if reply := msg.ReplyToMessage; reply != nil && len(reply.Photo) > 0 {
		ev.IsReplyToPhoto = true
		ev.Photo = domain.PhotoRef(largestPhoto(reply.Photo))
		text := msg.Text
		ev.ReplyText = &text
	}

	return ev, true
}

// captionInvokes reports whether a photo caption invokes the doubt command
// ("/doubt ...", including the "/doubt@BotName" group form). Photos posted
// without the command are ordinary chat traffic, not requests.
func (t *Telegram) captionInvokes(caption string) bool {
	token, _, _ := strings.Cut(strings.TrimSpace(caption), " ")
	return token == t.command || strings.HasPrefix(token, t.command+"@")
}

// largestPhoto picks the highest-resolution size Telegram offers.
func largestPhoto(sizes []tgbotapi.PhotoSize) string {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best.FileID
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendChunk(chatID, t.templates.Start)
	case "help":
		t.sendChunk(chatID, t.templates.Help)
	default:
		t.sendChunk(chatID, t.templates.Usage)
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// sendChunk sends a single message with retry and rate limit handling.
// Strategy: try Markdown first, on parse error fall back to plain text,
// then retry with backoff.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}
		// On subsequent attempts: send as plain text (parse mode may be malformed).

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		// Handle Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Markdown parse error on first attempt, immediately retry as plain text.
		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
			// Plain also failed, fall through to backoff loop.
		}

		// Exponential backoff for other transient errors.
		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
