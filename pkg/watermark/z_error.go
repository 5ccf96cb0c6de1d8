package watermark

import "errors"

// ErrClosed is returned by any watermark operation issued after shutdown has
// been signalled.
var ErrClosed = errors.New("watermark has been closed")
