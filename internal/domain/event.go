package domain

import "time"

// PhotoRef is an opaque, channel-specific handle to a photo (a Telegram file
// ID, a Discord attachment URL). Only the channel that produced the reference
// knows how to fetch its bytes.
type PhotoRef string

// InboundEvent is the normalized representation of one user interaction,
// built by a transport adapter and consumed exactly once by the pipeline.
// At most one of HasPhoto / IsReplyToPhoto is true for a well-formed event.
type InboundEvent struct {
	Channel  string
	ChatID   string
	SenderID string

	// CommandArgs are the tokens following the invocation command, empty if none.
	CommandArgs []string

	// HasPhoto is true when the event carries its own photo. PhotoCaption is
	// nil when the photo had no caption at all; a present-but-empty caption
	// is distinct from an absent one (the resolver treats them differently).
	HasPhoto     bool
	PhotoCaption *string

	// IsReplyToPhoto is true when the event is a reply to a previously sent
	// photo. ReplyText carries the text of the replying message, if any.
	IsReplyToPhoto bool
	ReplyText      *string

	// Photo references the event's own photo, or the replied-to photo.
	Photo PhotoRef

	Timestamp time.Time
}
