package mutation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marcus/syncdb/internal/storage"
)

// JSONMutation is a reference Mutation: an operation name plus a JSON
// payload. It exists so the core is exercisable end to end by the demo CLI
// and integration harness — embedders with a real mutation language supply
// their own Mutation/Mutator instead.
type JSONMutation struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// Encode implements Mutation.
func (m JSONMutation) Encode() ([]byte, error) { return json.Marshal(m) }

// JSONCodec implements journal.Codec[JSONMutation].
type JSONCodec struct{}

func (JSONCodec) Encode(m JSONMutation) ([]byte, error) { return m.Encode() }
func (JSONCodec) Decode(b []byte) (JSONMutation, error) {
	var m JSONMutation
	err := json.Unmarshal(b, &m)
	return m, err
}

// Handler applies one op's JSON payload to a transaction.
type Handler func(ctx context.Context, tx storage.Tx, payload json.RawMessage) error

// JSONMutator dispatches JSONMutation values to registered op handlers, an
// op-keyed lookup table in the same spirit as a type-switch dispatcher but
// open to registration at runtime.
type JSONMutator struct {
	handlers map[string]Handler
}

// NewJSONMutator creates a mutator with no handlers registered.
func NewJSONMutator() *JSONMutator {
	return &JSONMutator{handlers: make(map[string]Handler)}
}

// Register binds an op name to a handler. Registering the same op twice
// replaces the previous handler.
func (j *JSONMutator) Register(op string, h Handler) {
	j.handlers[op] = h
}

// Apply implements Mutator.
func (j *JSONMutator) Apply(ctx context.Context, tx storage.Tx, m Mutation) error {
	jm, ok := m.(JSONMutation)
	if !ok {
		return fmt.Errorf("mutation: JSONMutator cannot apply %T", m)
	}
	h, ok := j.handlers[jm.Op]
	if !ok {
		return fmt.Errorf("mutation: no handler registered for op %q", jm.Op)
	}
	return h(ctx, tx, jm.Payload)
}

// ReferenceCodec implements journal.Codec[Mutation] by always decoding into
// a JSONMutation. It lets a mutation journal be declared over the opaque
// Mutation interface while still having something concrete to persist
// against; embedders with their own Mutation type supply their own codec.
type ReferenceCodec struct{}

func (ReferenceCodec) Encode(m Mutation) ([]byte, error) { return m.Encode() }
func (ReferenceCodec) Decode(b []byte) (Mutation, error) {
	var m JSONMutation
	err := json.Unmarshal(b, &m)
	return m, err
}
