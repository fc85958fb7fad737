package job

import "context"

// Definition is a typed handler for one job type. P is the payload struct
// and R the result, which is stored as JSON on success.
type Definition[P Payload, R any] struct {
	// Type is the job type this definition handles.
	Type Type

	// Handler performs the side effect.
	Handler func(ctx context.Context, payload P) (R, error)
}

// NewDefinition creates a typed definition. The job type is taken from
// the payload type.
func NewDefinition[P Payload, R any](handler func(ctx context.Context, payload P) (R, error)) *Definition[P, R] {
	var zero P
	return &Definition[P, R]{
		Type:    zero.Type(),
		Handler: handler,
	}
}
