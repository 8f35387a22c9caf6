package generation

import (
	"context"
	"errors"

	"github.com/glyphic-ai/render-api/internal/domain"
)

// ErrPermanent marks a provider failure that retrying cannot fix
// (rejected payload, unrecoverable provider error). Providers wrap the
// underlying cause with it; anything else is treated as transient.
var ErrPermanent = errors.New("permanent generation failure")

// Provider is the external generation engine. It is invoked only by
// workers, never on the admission path.
type Provider interface {
	Generate(ctx context.Context, payload domain.Payload) (domain.Artifact, error)
}

// IsPermanent reports whether err is a non-retryable provider failure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
