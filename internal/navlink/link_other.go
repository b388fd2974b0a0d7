//go:build !linux && !darwin

package navlink

import (
	"context"
	"errors"
	"fmt"
)

func openPollLink(context.Context, Endpoint) (Link, error) {
	return nil, fmt.Errorf("navdata link: %w", errors.ErrUnsupported)
}
