package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"doubtbot/internal/domain"
	"doubtbot/internal/prompt"

	"github.com/bwmarrin/discordgo"
)

const (
	discordDefaultMsgLimit = 2000
	discordFetchTimeout    = 60 * time.Second
)

// Discord implements domain.Channel over a gateway session. Commands use a
// message prefix ("!doubt") rather than slash commands so that image
// attachments can ride along with the invocation. Photo references are
// attachment CDN URLs, so Discord also implements domain.PhotoFetcher.
type Discord struct {
	token    string
	guildID  string
	command  string
	msgLimit int

	session   *discordgo.Session
	bus       domain.MessageBus
	templates *prompt.Templates
	logger    *slog.Logger
	client    *http.Client
}

type DiscordOptions struct {
	Token        string
	GuildID      string
	Command      string
	MessageQuota int
	Templates    *prompt.Templates
	Logger       *slog.Logger
}

func NewDiscord(opts DiscordOptions) *Discord {
	if opts.Command == "" {
		opts.Command = "!doubt"
	}
	if opts.MessageQuota <= 0 {
		opts.MessageQuota = discordDefaultMsgLimit
	}
	return &Discord{
		token:     opts.Token,
		guildID:   opts.GuildID,
		command:   opts.Command,
		msgLimit:  opts.MessageQuota,
		templates: opts.Templates,
		logger:    opts.Logger,
		client:    &http.Client{Timeout: discordFetchTimeout},
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) MessageLimit() int { return d.msgLimit }

// Start connects to Discord using a bot token and begins listening.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d.session = session

	bus.OnOutbound("discord", func(del domain.Delivery) {
		for _, part := range del.Parts {
			if _, err := d.session.ChannelMessageSend(del.ChatID, part.Text); err != nil {
				d.logger.Error("discord send failed", "channel", del.ChatID, "err", err)
			}
		}
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		// Ignore bot's own messages.
		if m.Author.ID == s.State.User.ID {
			return
		}

		// If guildID is set, filter messages.
		if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
			return
		}

		d.handleMessage(s, m)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error {
	if d.session != nil {
		return d.session.Close()
	}
	return nil
}

func (d *Discord) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	content := strings.TrimSpace(m.Content)
	attachment := firstImageAttachment(m.Attachments)

	switch {
	case content == "!start":
		d.reply(m.ChannelID, d.templates.Start)
		return
	case content == "!help":
		d.reply(m.ChannelID, d.templates.Help)
		return
	}

	// Only invocations are requests. Images posted without the command are
	// ordinary chat traffic.
	if !d.invokes(content) {
		return
	}

	ev, ok := d.eventFromMessage(m, content, attachment)
	if !ok {
		return
	}

	d.logger.Info("discord doubt received",
		"author", m.Author.Username,
		"channel_id", m.ChannelID,
		"has_photo", ev.HasPhoto,
		"reply_to_photo", ev.IsReplyToPhoto,
	)
	_ = s.ChannelTyping(m.ChannelID)
	d.bus.Publish(ev)
}

// invokes reports whether a message's content starts with the doubt
// command prefix.
func (d *Discord) invokes(content string) bool {
	return content == d.command || strings.HasPrefix(content, d.command+" ")
}

// eventFromMessage normalizes an invoking Discord message into an inbound
// event. An invocation carrying an image attachment is a photo event with
// the invocation text as the caption; an invocation replying to an image
// message is a reply event.
func (d *Discord) eventFromMessage(m *discordgo.MessageCreate, content string, attachment *discordgo.MessageAttachment) (domain.InboundEvent, bool) {
	ev := domain.InboundEvent{
		Channel:   "discord",
		ChatID:    m.ChannelID,
		SenderID:  m.Author.ID,
		Timestamp: time.Now(),
	}

	// The pipeline only knows the canonical command, so the "!doubt" prefix
	// is stripped here. A bare invocation leaves an empty instruction.
	instruction := strings.TrimSpace(strings.TrimPrefix(content, d.command))

	if attachment != nil {
		ev.HasPhoto = true
		ev.Photo = domain.PhotoRef(attachment.URL)
		ev.PhotoCaption = &instruction
		return ev, true
	}

	ev.CommandArgs = strings.Fields(instruction)

	if ref := m.ReferencedMessage; ref != nil {
		if refAttachment := firstImageAttachment(ref.Attachments); refAttachment != nil {
			ev.IsReplyToPhoto = true
			ev.Photo = domain.PhotoRef(refAttachment.URL)
			ev.ReplyText = &instruction
		}
	}

	return ev, true
}

// FetchPhoto downloads an attachment from the Discord CDN.
func (d *Discord) FetchPhoto(ctx context.Context, ref domain.PhotoRef) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", string(ref), nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("discord attachment download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("discord attachment download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("discord attachment download: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/jpeg"
	}
	return data, mime, nil
}

func (d *Discord) reply(channelID, text string) {
	if _, err := d.session.ChannelMessageSend(channelID, text); err != nil {
		d.logger.Error("discord send failed", "channel", channelID, "err", err)
	}
}

func firstImageAttachment(atts []*discordgo.MessageAttachment) *discordgo.MessageAttachment {
	for _, a := range atts {
		if strings.HasPrefix(a.ContentType, "image/") {
			return a
		}
	}
	return nil
}
