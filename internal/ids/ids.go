package ids

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// localPrefix tags every client-generated id. The server never issues ids
// with this prefix, so local and confirmed ids are always distinguishable.
const localPrefix = "local:"

// Kind selects the reserved id namespace for an entity awaiting confirmation.
type Kind string

const (
	KindMessage   Kind = "msg"
	KindCallStart Kind = "callstart"
	KindCallEnd   Kind = "callend"
)

// Allocator hands out collision-resistant temporary local identifiers.
// A monotonically advancing counter guarantees uniqueness within the process;
// the random component tolerates coarse clocks and process restarts.
type Allocator struct {
	seq atomic.Uint64
}

// New creates an allocator.
func New() *Allocator {
	return &Allocator{}
}

// Allocate returns a fresh local id for the given kind, e.g.
// "local:msg:17:3f9c1a2b".
func (a *Allocator) Allocate(kind Kind) string {
	n := a.seq.Add(1)
	return fmt.Sprintf("%s%s:%d:%s", localPrefix, kind, n, uuid.New().String()[:8])
}

// IsLocal reports whether id was generated by an Allocator rather than
// issued by the server.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, localPrefix)
}
