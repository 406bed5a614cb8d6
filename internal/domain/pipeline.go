package domain

// Modality says whether a resolved instruction includes an image payload.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// ResolvedInstruction is the resolver's output: the effective instruction
// text and the modality it applies to. Text is never empty; an empty
// instruction is an error outcome, not a valid instance.
type ResolvedInstruction struct {
	Modality Modality
	Text     string
	Photo    PhotoRef // set iff Modality == ModalityImage
}

// CompletionRequest is the payload for one completion-service call.
// Instruction already carries the modality-specific directive suffix.
type CompletionRequest struct {
	Preamble    string
	Instruction string
	ImageBytes  []byte
	ImageMIME   string
}

// ErrorKind classifies a pipeline failure.
type ErrorKind string

const (
	ErrMissingInstruction ErrorKind = "missing_instruction"
	ErrMalformedEvent     ErrorKind = "malformed_event"
	ErrUpstreamFailure    ErrorKind = "upstream_failure"
)

// PipelineError is a typed, terminal pipeline outcome. It is rendered into
// exactly one outbound descriptor and never retried.
type PipelineError struct {
	Kind  ErrorKind
	Cause error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Cause.Error()
	}
	return string(e.Kind)
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// NewPipelineError wraps cause (which may be nil) with a kind.
func NewPipelineError(kind ErrorKind, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Cause: cause}
}

// OutboundDescriptor is one ordered part of a response. Text is already
// labeled and within the target channel's size limit.
type OutboundDescriptor struct {
	Index int
	Text  string
}

// Delivery is the ordered sequence of descriptors produced by one pipeline
// run, addressed back to the originating chat context. Parts must be sent
// in slice order.
type Delivery struct {
	Channel string
	ChatID  string
	Parts   []OutboundDescriptor
}
