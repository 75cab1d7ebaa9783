// Package mutation defines the opaque mutation abstraction the sync core is
// parametric over: a Mutation is any value that can be
// serialized for the journal and applied deterministically against a
// transaction by a Mutator. Neither equality nor identity is required of a
// Mutation beyond its journal position.
package mutation

import (
	"context"

	"github.com/marcus/syncdb/internal/storage"
)

// Mutation is an opaque, journal-storable value. Implementations must
// encode deterministically: the same logical mutation must always produce
// the same bytes. The journal's divergence check compares decoded values
// (structural hash, then reflect.DeepEqual), not the encoded bytes.
type Mutation interface {
	Encode() ([]byte, error)
}

// Mutator applies a single mutation to a transaction. Apply must be
// deterministic given the transaction's current state — the core relies on
// this for rebase and for server-side re-execution
// to converge.
type Mutator interface {
	Apply(ctx context.Context, tx storage.Tx, m Mutation) error
}
