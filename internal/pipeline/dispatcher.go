package pipeline

import (
	"fmt"

	"doubtbot/internal/domain"
	"doubtbot/internal/prompt"
)

// Dispatcher turns an answer (or a pipeline error) into the ordered sequence
// of outbound descriptors a transport adapter will send. It only produces
// descriptors; transmission belongs to the channel.
type Dispatcher struct {
	templates *prompt.Templates
}

func NewDispatcher(t *prompt.Templates) *Dispatcher {
	return &Dispatcher{templates: t}
}

// labelBudget is the number of bytes reserved for the longest possible
// label plus the blank line that separates it from the chunk text, so the
// labeled descriptor stays within the channel limit.
func (d *Dispatcher) labelBudget() int {
	widest := len(d.templates.SolutionLabel)
	if n := len(d.templates.SolutionFirstLabel); n > widest {
		widest = n
	}
	if n := len(fmt.Sprintf(d.templates.PartLabel, 9999)); n > widest {
		widest = n
	}
	return widest + len("\n\n")
}

// Deliver chunks the answer for the given channel limit and labels the
// parts: a single chunk gets the plain solution label, multiple chunks get
// "Part 1"/"Part N" labels in chunk order. Chunking reserves room for the
// label so the labeled text fits within the limit. A limit of zero or less
// means the channel accepts any length and yields a single descriptor.
func (d *Dispatcher) Deliver(answer string, limit int) []domain.OutboundDescriptor {
	effective := 0
	if limit > 0 {
		effective = limit - d.labelBudget()
		if effective < 1 {
			effective = 1
		}
	}

	chunks := Chunks(answer, effective)
	out := make([]domain.OutboundDescriptor, 0, len(chunks))
	for _, ch := range chunks {
		var label string
		switch {
		case ch.IsOnly:
			label = d.templates.SolutionLabel
		case ch.IsFirst:
			label = d.templates.SolutionFirstLabel
		default:
			label = fmt.Sprintf(d.templates.PartLabel, ch.Index+1)
		}
		out = append(out, domain.OutboundDescriptor{
			Index: ch.Index,
			Text:  label + "\n\n" + ch.Text,
		})
	}
	return out
}

// DeliverError produces exactly one descriptor with the bilingual template
// for the error kind. Error templates are always within the size limit, so
// no chunking is attempted. image selects the photo-specific wording for
// missing instructions.
func (d *Dispatcher) DeliverError(perr *domain.PipelineError, image bool) []domain.OutboundDescriptor {
	return []domain.OutboundDescriptor{{
		Index: 0,
		Text:  d.templates.ErrorText(perr.Kind, image),
	}}
}
