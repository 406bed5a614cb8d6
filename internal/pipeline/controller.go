package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"doubtbot/internal/domain"
	"doubtbot/internal/metrics"
)

const defaultConcurrency = 5

// Recorder persists pipeline run outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, channel, chatID string, modality domain.Modality, outcome string, latencyMs int64) error
}

// channelBinding ties a channel name to its delivery limit and photo fetcher.
type channelBinding struct {
	limit   int
	fetcher domain.PhotoFetcher
}

// Controller orchestrates one pipeline run per inbound event:
// resolve → compose → invoke the completion service → dispatch. Runs are
// independent units of work with no shared state; a single upstream failure
// terminates the run with a localized failure message, no retries.
type Controller struct {
	resolver    *Resolver
	composer    *Composer
	dispatcher  *Dispatcher
	completer   domain.Completer
	bus         domain.MessageBus
	stats       Recorder
	logger      *slog.Logger
	concurrency int
	channels    map[string]channelBinding
}

// ControllerConfig holds all dependencies for the pipeline controller.
type ControllerConfig struct {
	Resolver    *Resolver
	Composer    *Composer
	Dispatcher  *Dispatcher
	Completer   domain.Completer
	Bus         domain.MessageBus
	Stats       Recorder // optional
	Logger      *slog.Logger
	Concurrency int // max parallel runs (default 5)
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Controller{
		resolver:    cfg.Resolver,
		composer:    cfg.Composer,
		dispatcher:  cfg.Dispatcher,
		completer:   cfg.Completer,
		bus:         cfg.Bus,
		stats:       cfg.Stats,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		channels:    make(map[string]channelBinding),
	}
}

// RegisterChannel records a channel's message limit and, when the channel
// can carry photos, its photo fetcher. Must be called before Run.
func (c *Controller) RegisterChannel(ch domain.Channel) {
	b := channelBinding{limit: ch.MessageLimit()}
	if f, ok := ch.(domain.PhotoFetcher); ok {
		b.fetcher = f
	}
	c.channels[ch.Name()] = b
}

// Run consumes inbound events and processes them with bounded concurrency.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info("pipeline controller started", "concurrency", c.concurrency)

	sem := make(chan struct{}, c.concurrency)
	inbound := c.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("pipeline controller stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				c.logger.Info("inbound channel closed, pipeline controller stopping")
				return
			}
			sem <- struct{}{}
			go func(e domain.InboundEvent) {
				defer func() { <-sem }()
				c.process(ctx, e)
			}(ev)
		}
	}
}

// process runs one event through the pipeline and hands the resulting
// descriptor sequence back through the bus.
func (c *Controller) process(ctx context.Context, ev domain.InboundEvent) {
	parts := c.Handle(ctx, ev)
	c.bus.SendOutbound(domain.Delivery{Channel: ev.Channel, ChatID: ev.ChatID, Parts: parts})
}

// Handle executes the full pipeline for a single event and returns the
// ordered outbound descriptors. Exposed for direct callers (one-shot CLI)
// that bypass the bus.
func (c *Controller) Handle(ctx context.Context, ev domain.InboundEvent) []domain.OutboundDescriptor {
	metrics.EventsTotal.Inc()
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	start := time.Now()
	imageCtx := ev.HasPhoto || ev.IsReplyToPhoto

	res, perr := c.resolver.Resolve(ev)
	if perr != nil {
		return c.reject(ctx, ev, perr, imageCtx, start)
	}

	var imgBytes []byte
	var imgMIME string
	if res.Modality == domain.ModalityImage {
		fetcher := c.channels[ev.Channel].fetcher
		if fetcher == nil {
			err := fmt.Errorf("channel %s cannot fetch photos", ev.Channel)
			return c.reject(ctx, ev, domain.NewPipelineError(domain.ErrUpstreamFailure, err), imageCtx, start)
		}
		var err error
		imgBytes, imgMIME, err = fetcher.FetchPhoto(ctx, res.Photo)
		if err != nil {
			return c.reject(ctx, ev, domain.NewPipelineError(domain.ErrUpstreamFailure, err), imageCtx, start)
		}
	}

	req := c.composer.Compose(res, imgBytes, imgMIME)

	invokeStart := time.Now()
	answer, err := c.completer.Complete(ctx, req)
	metrics.CompletionLatency.Observe(time.Since(invokeStart).Seconds())
	if err != nil {
		return c.reject(ctx, ev, domain.NewPipelineError(domain.ErrUpstreamFailure, err), imageCtx, start)
	}
	if strings.TrimSpace(answer) == "" {
		err := fmt.Errorf("completion service returned no text")
		return c.reject(ctx, ev, domain.NewPipelineError(domain.ErrUpstreamFailure, err), imageCtx, start)
	}

	parts := c.dispatcher.Deliver(answer, c.channels[ev.Channel].limit)

	metrics.AnswersTotal.Inc()
	c.record(ctx, ev, res.Modality, "answered", start)
	c.logger.Info("doubt answered",
		"channel", ev.Channel,
		"chat", ev.ChatID,
		"modality", res.Modality,
		"parts", len(parts),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return parts
}

// reject converts a pipeline error into its single error descriptor.
func (c *Controller) reject(ctx context.Context, ev domain.InboundEvent, perr *domain.PipelineError, imageCtx bool, start time.Time) []domain.OutboundDescriptor {
	switch perr.Kind {
	case domain.ErrMissingInstruction:
		metrics.MissingTotal.Inc()
	case domain.ErrMalformedEvent:
		metrics.MalformedTotal.Inc()
	case domain.ErrUpstreamFailure:
		metrics.UpstreamFailures.Inc()
	}

	modality := domain.ModalityText
	if imageCtx {
		modality = domain.ModalityImage
	}
	c.record(ctx, ev, modality, string(perr.Kind), start)

	if perr.Cause != nil {
		c.logger.Error("pipeline run rejected",
			"channel", ev.Channel,
			"chat", ev.ChatID,
			"kind", perr.Kind,
			"err", perr.Cause,
		)
	} else {
		c.logger.Info("pipeline run rejected",
			"channel", ev.Channel,
			"chat", ev.ChatID,
			"kind", perr.Kind,
		)
	}

	return c.dispatcher.DeliverError(perr, imageCtx)
}

func (c *Controller) record(ctx context.Context, ev domain.InboundEvent, modality domain.Modality, outcome string, start time.Time) {
	if c.stats == nil {
		return
	}
	if err := c.stats.Record(ctx, ev.Channel, ev.ChatID, modality, outcome, time.Since(start).Milliseconds()); err != nil {
		c.logger.Warn("stats record failed", "err", err)
	}
}
