//go:build !windows

package sink

import (
	"context"
	"errors"
	"io"
)

// ErrPipesUnsupported is returned by OpenPipe outside Windows.
var ErrPipesUnsupported = errors.New("sink: named pipes are only supported on windows")

func OpenPipe(ctx context.Context, path string) (io.WriteCloser, error) {
	return nil, ErrPipesUnsupported
}
