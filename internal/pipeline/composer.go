package pipeline

import (
	"fmt"

	"doubtbot/internal/domain"
	"doubtbot/internal/prompt"
)

// Composer builds completion requests. Pure and total: concatenation plus
// optional attachment of image bytes, with the modality-specific directive
// supplied as template data rather than branching logic.
type Composer struct {
	preamble       string
	textDirective  string
	imageDirective string
}

func NewComposer(t *prompt.Templates) *Composer {
	return &Composer{
		preamble:       t.Preamble,
		textDirective:  t.TextDirective,
		imageDirective: t.ImageDirective,
	}
}

// Compose produces the request for one completion call. imageBytes and
// imageMIME are ignored for text-only instructions.
func (c *Composer) Compose(res domain.ResolvedInstruction, imageBytes []byte, imageMIME string) domain.CompletionRequest {
	req := domain.CompletionRequest{Preamble: c.preamble}
	if res.Modality == domain.ModalityImage {
		req.Instruction = fmt.Sprintf(c.imageDirective, res.Text)
		req.ImageBytes = imageBytes
		req.ImageMIME = imageMIME
	} else {
		req.Instruction = fmt.Sprintf(c.textDirective, res.Text)
	}
	return req
}
