package wal

import "errors"

// ErrCorruptRecord marks a record that is short or fails its checksum.
// During recovery it identifies the torn tail left by a crash.
var ErrCorruptRecord = errors.New("corrupt journal record")
