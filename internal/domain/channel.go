package domain

import "context"

// Channel is the interface for user-facing transports (Telegram, Discord, CLI).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error

	// MessageLimit is the channel's maximum outbound message size in
	// characters. A value <= 0 means the channel has no practical limit.
	MessageLimit() int
}

// PhotoFetcher downloads the raw bytes for a photo reference. Channels whose
// events can carry photos implement this; the pipeline calls it through the
// registry it was wired with. Returns the bytes and their MIME type.
type PhotoFetcher interface {
	FetchPhoto(ctx context.Context, ref PhotoRef) ([]byte, string, error)
}
