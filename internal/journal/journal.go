// Package journal implements an append-only, LSN-ordered log: strictly
// increasing sequence numbers, partial-range extraction for sync, idempotent
// receive, prefix truncation, and rollup compaction.
//
// Journal[T] is used both for a client's local mutation journal and for the
// server's per-client mutation journals and storage journal.
package journal

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/mitchellh/hashstructure/v2"
)

// LSN is a per-journal monotonic sequence number. LSNs are not comparable
// across journals belonging to different clients.
type LSN uint64

// Entry pairs an LSN with its value.
type Entry[T any] struct {
	LSN   LSN
	Value T
}

// Partial is a contiguous slice of a journal's entries plus the journal's
// base LSN at the time it was prepared — the unit of sync.
type Partial[T any] struct {
	Base    LSN
	Entries []Entry[T]
}

// Len reports how many entries the partial carries.
func (p Partial[T]) Len() int { return len(p.Entries) }

// End returns the LSN one past the partial's last entry (or Base if empty).
func (p Partial[T]) End() LSN {
	if len(p.Entries) == 0 {
		return p.Base
	}
	return p.Entries[len(p.Entries)-1].LSN + 1
}

var (
	// ErrGap is returned by SyncReceive when the partial does not
	// contiguously extend the journal.
	ErrGap = errors.New("journal: gap between tip and partial base")
	// ErrDivergence is returned by SyncReceive when an overlapping LSN
	// carries a different value than the one already recorded.
	ErrDivergence = errors.New("journal: overlapping lsn carries a different entry")
	// ErrOutOfRange is returned by TruncateTo when the target LSN is
	// beyond the journal's tip.
	ErrOutOfRange = errors.New("journal: truncate target beyond tip")
)

// Journal is an ordered, in-memory sequence of (lsn, T) entries with a
// truncatable base. A Journal may optionally be backed by a crash-safe file
// (see WithFile) so its durable state survives a process restart.
type Journal[T any] struct {
	mu      sync.Mutex
	base    LSN
	entries []T // entries[i] has LSN base+LSN(i)
	equal   func(a, b T) bool
	file    *fileBacking[T]
}

// Option configures a Journal at construction time.
type Option[T any] func(*Journal[T])

// WithEqual overrides the equality function used to detect divergence on
// overlapping sync_receive ranges. The default hashes both values with
// hashstructure and falls back to reflect.DeepEqual on a hash collision.
func WithEqual[T any](eq func(a, b T) bool) Option[T] {
	return func(j *Journal[T]) { j.equal = eq }
}

// New creates an empty, purely in-memory journal.
func New[T any](opts ...Option[T]) *Journal[T] {
	j := &Journal[T]{equal: defaultEqual[T]}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func defaultEqual[T any](a, b T) bool {
	ha, errA := hashstructure.Hash(a, hashstructure.FormatV2, nil)
	hb, errB := hashstructure.Hash(b, hashstructure.FormatV2, nil)
	if errA == nil && errB == nil && ha != hb {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// LSN returns the next-to-assign LSN.
func (j *Journal[T]) LSN() LSN {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tipLocked()
}

func (j *Journal[T]) tipLocked() LSN {
	return j.base + LSN(len(j.entries))
}

// Base returns the journal's current base LSN; entries below it have been
// truncated, rolled up, or applied.
func (j *Journal[T]) Base() LSN {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.base
}

// Len returns the number of live entries, i.e. tip - base.
func (j *Journal[T]) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Append appends a value at LSN(), returning the assigned LSN. Infallible
// except for a persistence failure, which is reported but does not corrupt
// in-memory state — the caller decides whether to treat it as fatal.
func (j *Journal[T]) Append(value T) (LSN, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	lsn := j.tipLocked()
	if j.file != nil {
		if err := j.file.appendRecord(lsn, value); err != nil {
			return 0, fmt.Errorf("journal: persist append: %w", err)
		}
	}
	j.entries = append(j.entries, value)
	return lsn, nil
}

// EntryAt returns the entry at the given LSN, if it is currently live
// (base <= lsn < tip).
func (j *Journal[T]) EntryAt(lsn LSN) (T, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var zero T
	if lsn < j.base || lsn >= j.tipLocked() {
		return zero, false
	}
	return j.entries[lsn-j.base], true
}

// SyncPrepare returns a contiguous slice beginning at max(cursor, base),
// of length min(maxLen, tip-start). A cursor past the tip yields an empty
// partial anchored at the tip.
func (j *Journal[T]) SyncPrepare(cursor LSN, maxLen int) Partial[T] {
	j.mu.Lock()
	defer j.mu.Unlock()

	tip := j.tipLocked()
	start := cursor
	if start < j.base {
		start = j.base
	}
	if start > tip {
		return Partial[T]{Base: tip}
	}

	avail := int(tip - start)
	n := avail
	if maxLen > 0 && maxLen < n {
		n = maxLen
	}

	entries := make([]Entry[T], n)
	for i := 0; i < n; i++ {
		lsn := start + LSN(i)
		entries[i] = Entry[T]{LSN: lsn, Value: j.entries[lsn-j.base]}
	}
	return Partial[T]{Base: start, Entries: entries}
}

// SyncReceive idempotently merges a partial into the journal.
// Receiving the same partial twice, or an overlapping-but-consistent
// partial, leaves the journal in the same state as receiving it once.
func (j *Journal[T]) SyncReceive(p Partial[T]) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tip := j.tipLocked()

	if p.Base > tip {
		return fmt.Errorf("%w: partial base %d > tip %d", ErrGap, p.Base, tip)
	}
	if p.End() <= j.base {
		return nil // fully subsumed, no-op
	}

	for _, e := range p.Entries {
		switch {
		case e.LSN < j.base:
			continue // already rolled up/truncated away
		case e.LSN < tip:
			existing := j.entries[e.LSN-j.base]
			if !j.equal(existing, e.Value) {
				return fmt.Errorf("%w: lsn %d", ErrDivergence, e.LSN)
			}
		case e.LSN == tip:
			if j.file != nil {
				if err := j.file.appendRecord(e.LSN, e.Value); err != nil {
					return fmt.Errorf("journal: persist append: %w", err)
				}
			}
			j.entries = append(j.entries, e.Value)
			tip++
		default:
			// e.LSN > tip: partial claimed contiguity from p.Base but this
			// entry isn't adjacent. Treat as a gap — the caller's partial
			// is internally inconsistent or stale.
			return fmt.Errorf("%w: entry lsn %d beyond tip %d", ErrGap, e.LSN, tip)
		}
	}
	return nil
}

// TruncateTo discards entries with lsn < given, raising the base. No-op if
// lsn <= base; fails with ErrOutOfRange if lsn > tip.
func (j *Journal[T]) TruncateTo(lsn LSN) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.truncateToLocked(lsn)
}

func (j *Journal[T]) truncateToLocked(lsn LSN) error {
	tip := j.tipLocked()
	if lsn <= j.base {
		return nil
	}
	if lsn > tip {
		return fmt.Errorf("%w: truncate lsn %d > tip %d", ErrOutOfRange, lsn, tip)
	}
	drop := int(lsn - j.base)
	j.entries = append([]T(nil), j.entries[drop:]...)
	j.base = lsn
	if j.file != nil {
		if err := j.file.rewrite(j.base, j.entries); err != nil {
			return fmt.Errorf("journal: persist truncate: %w", err)
		}
	}
	return nil
}

// Fold receives the live entries in [base, lsn) and returns a synthesized
// replacement entry (ok=true) or nothing (ok=false) to discard the prefix
// outright.
type Fold[T any] func(entries []Entry[T]) (synthesized T, ok bool)

// Rollup replaces the prefix [base, lsn) with at most one synthesized entry
// produced by fold. When fold returns an entry it occupies lsn-1 and the
// base becomes lsn-1; when fold discards the prefix the base becomes lsn.
// Entries at or after lsn keep their LSNs, so tip is unchanged. An empty
// prefix (lsn == base) leaves the journal unchanged.
func (j *Journal[T]) Rollup(lsn LSN, fold Fold[T]) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tip := j.tipLocked()
	if lsn < j.base {
		return nil
	}
	if lsn > tip {
		return fmt.Errorf("%w: rollup lsn %d > tip %d", ErrOutOfRange, lsn, tip)
	}

	prefixLen := int(lsn - j.base)
	prefix := make([]Entry[T], prefixLen)
	for i := 0; i < prefixLen; i++ {
		prefix[i] = Entry[T]{LSN: j.base + LSN(i), Value: j.entries[i]}
	}
	rest := append([]T(nil), j.entries[prefixLen:]...)

	synthesized, ok := fold(prefix)
	var newEntries []T
	var newBase LSN
	if ok && prefixLen > 0 {
		newEntries = append([]T{synthesized}, rest...)
		newBase = lsn - 1
	} else {
		newEntries = rest
		newBase = lsn
	}

	j.entries = newEntries
	j.base = newBase
	if j.file != nil {
		if err := j.file.rewrite(j.base, j.entries); err != nil {
			return fmt.Errorf("journal: persist rollup: %w", err)
		}
	}
	return nil
}

// Snapshot returns a copy of the live entries in [base, tip), safe to
// retain past the journal's lifetime or across further mutation.
func (j *Journal[T]) Snapshot() []Entry[T] {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry[T], len(j.entries))
	for i, v := range j.entries {
		out[i] = Entry[T]{LSN: j.base + LSN(i), Value: v}
	}
	return out
}

// All returns an iterator over the journal's live entries in ascending LSN
// order. It walks a Snapshot taken when iteration starts, so appends or
// truncations made during iteration are not seen.
func (j *Journal[T]) All() func(yield func(LSN, T) bool) {
	return func(yield func(LSN, T) bool) {
		for _, e := range j.Snapshot() {
			if !yield(e.LSN, e.Value) {
				return
			}
		}
	}
}

// Backward returns an iterator over the journal's live entries in
// descending LSN order.
func (j *Journal[T]) Backward() func(yield func(LSN, T) bool) {
	return func(yield func(LSN, T) bool) {
		entries := j.Snapshot()
		for i := len(entries) - 1; i >= 0; i-- {
			if !yield(entries[i].LSN, entries[i].Value) {
				return
			}
		}
	}
}
