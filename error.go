package treeindex

import (
	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/treeindex/internal/index"
)

var (
	ErrDuplicated = index.ErrDuplicated
	ErrClosed     = index.ErrClosed
	ErrCorruption = errors.New("index structure corrupted")
)

// DuplicateError is returned by Insert for a key that is already stored. It
// matches ErrDuplicated and carries the value the index keeps.
type DuplicateError[K, V any] = index.DuplicateError[K, V]
