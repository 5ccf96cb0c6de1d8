package keyspace

import "errors"

var ErrEmptyDir = errors.New("keyspace dir must not be empty")
var ErrKeyspaceInUse = errors.New("keyspace dir is locked by another process")
var ErrInvalidMarker = errors.New("keyspace marker file is invalid")
var ErrKeyspaceClosed = errors.New("keyspace is closed, can not perform the operation")
