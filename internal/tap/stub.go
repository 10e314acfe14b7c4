//go:build !linux

package tap

import "errors"

// ErrTxOverflow is provided for non-linux builds so bridge code can compile.
var ErrTxOverflow = errors.New("tap tx overflow (stub)")
