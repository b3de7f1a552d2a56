// Package bgremoval defines the background-removal service used to cut
// product photos out of their studio background before they are overlaid.
//
// Removal is slow and fallible. Every failure, including timeouts and
// cancellation, is reported as ErrRemovalFailed so the placement engine can
// degrade to the original image.
package bgremoval

import (
	"context"
	"errors"
	"fmt"
)

// ErrRemovalFailed wraps every error a Remover returns.
var ErrRemovalFailed = errors.New("background removal failed")

// Remover turns an image ref into a ref of the same image with a
// transparent background.
type Remover interface {
	RemoveBackground(ctx context.Context, imageRef string) (string, error)
}

// Func adapts a function to Remover.
type Func func(ctx context.Context, imageRef string) (string, error)

// RemoveBackground calls f.
func (f Func) RemoveBackground(ctx context.Context, imageRef string) (string, error) {
	return f(ctx, imageRef)
}

// Disabled is a Remover that always fails, so every placement uses the
// original image.
type Disabled struct{}

// RemoveBackground always returns ErrRemovalFailed.
func (Disabled) RemoveBackground(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: background removal is disabled", ErrRemovalFailed)
}

func failure(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRemovalFailed, fmt.Sprintf(format, args...))
}
