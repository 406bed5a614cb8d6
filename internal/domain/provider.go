package domain

import "context"

// Completer is the external multimodal completion service boundary. It is
// trusted as a black box: it returns generated text or fails. Any non-text
// result is an error.
type Completer interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Healthy(ctx context.Context) error
}
