package pipeline

import (
	"strings"

	"doubtbot/internal/domain"
)

// Resolver derives the effective instruction text and modality from a
// normalized inbound event. The precedence is deterministic and total:
// every well-formed event maps to exactly one outcome.
type Resolver struct {
	command string
}

// NewResolver creates a resolver that strips the given invocation command
// (e.g. "/doubt") from captions and reply texts.
func NewResolver(command string) *Resolver {
	if command == "" {
		command = "/doubt"
	}
	return &Resolver{command: command}
}

// Resolve applies the source-precedence rule:
//
//   - event with its own photo: the caption is the authoritative instruction
//     source; joined command arguments are used only when the caption is
//     absent entirely. A caption that strips down to nothing (bare
//     invocation) is a missing instruction even when arguments exist.
//   - reply to a photo: same rule with the reply's own text.
//   - neither photo flag: the joined command arguments, or a missing
//     instruction when there are none (the usage-prompt case).
//
// Both photo flags set at once violates the event invariant and is rejected
// as malformed.
func (r *Resolver) Resolve(ev domain.InboundEvent) (domain.ResolvedInstruction, *domain.PipelineError) {
	args := strings.TrimSpace(strings.Join(ev.CommandArgs, " "))

	switch {
	case ev.HasPhoto && ev.IsReplyToPhoto:
		return domain.ResolvedInstruction{}, domain.NewPipelineError(domain.ErrMalformedEvent, nil)

	case ev.HasPhoto:
		var text string
		if ev.PhotoCaption != nil {
			text = r.stripInvocation(*ev.PhotoCaption)
		} else {
			text = args
		}
		if text == "" {
			return domain.ResolvedInstruction{}, domain.NewPipelineError(domain.ErrMissingInstruction, nil)
		}
		return domain.ResolvedInstruction{Modality: domain.ModalityImage, Text: text, Photo: ev.Photo}, nil

	case ev.IsReplyToPhoto:
		var text string
		if ev.ReplyText != nil {
			text = r.stripInvocation(*ev.ReplyText)
		} else {
			text = args
		}
		if text == "" {
			return domain.ResolvedInstruction{}, domain.NewPipelineError(domain.ErrMissingInstruction, nil)
		}
		return domain.ResolvedInstruction{Modality: domain.ModalityImage, Text: text, Photo: ev.Photo}, nil

	default:
		if args == "" {
			return domain.ResolvedInstruction{}, domain.NewPipelineError(domain.ErrMissingInstruction, nil)
		}
		return domain.ResolvedInstruction{Modality: domain.ModalityText, Text: args}, nil
	}
}

// stripInvocation removes a leading invocation token ("/doubt", including the
// "/doubt@BotName" group form) and trims the result.
func (r *Resolver) stripInvocation(text string) string {
	trimmed := strings.TrimSpace(text)
	token, rest, _ := strings.Cut(trimmed, " ")
	if token == r.command || strings.HasPrefix(token, r.command+"@") {
		return strings.TrimSpace(rest)
	}
	return trimmed
}
