package journal

import (
	"testing"
)

func TestAppendAssignsSequentialLSNs(t *testing.T) {
	j := New[string]()

	for i, v := range []string{"a", "b", "c"} {
		lsn, err := j.Append(v)
		if err != nil {
			t.Fatalf("append %q: %v", v, err)
		}
		if lsn != LSN(i) {
			t.Fatalf("append %q: want lsn %d, got %d", v, i, lsn)
		}
	}
	if got := j.LSN(); got != 3 {
		t.Fatalf("LSN() = %d, want 3", got)
	}
}

func TestSyncPrepareRespectsCursorAndMaxLen(t *testing.T) {
	j := New[string]()
	for _, v := range []string{"a", "b", "c", "d"} {
		if _, err := j.Append(v); err != nil {
			t.Fatal(err)
		}
	}

	p := j.SyncPrepare(1, 2)
	if p.Base != 1 {
		t.Fatalf("base = %d, want 1", p.Base)
	}
	if len(p.Entries) != 2 || p.Entries[0].Value != "b" || p.Entries[1].Value != "c" {
		t.Fatalf("unexpected entries: %+v", p.Entries)
	}

	// cursor past tip -> empty partial anchored at tip
	p2 := j.SyncPrepare(100, 10)
	if p2.Base != 4 || len(p2.Entries) != 0 {
		t.Fatalf("expected empty partial at tip, got %+v", p2)
	}
}

func TestSyncReceiveIdempotent(t *testing.T) {
	j := New[string]()
	p := Partial[string]{Base: 0, Entries: []Entry[string]{{0, "a"}, {1, "b"}}}

	if err := j.SyncReceive(p); err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if err := j.SyncReceive(p); err != nil {
		t.Fatalf("second (duplicate) receive: %v", err)
	}
	if got := j.LSN(); got != 2 {
		t.Fatalf("LSN() = %d, want 2 after idempotent receive", got)
	}
}

func TestSyncReceiveComposability(t *testing.T) {
	whole := Partial[string]{Base: 0, Entries: []Entry[string]{{0, "a"}, {1, "b"}, {2, "c"}}}
	p1 := Partial[string]{Base: 0, Entries: []Entry[string]{{0, "a"}, {1, "b"}}}
	p2 := Partial[string]{Base: 2, Entries: []Entry[string]{{2, "c"}}}

	jSplit := New[string]()
	if err := jSplit.SyncReceive(p1); err != nil {
		t.Fatal(err)
	}
	if err := jSplit.SyncReceive(p2); err != nil {
		t.Fatal(err)
	}

	jWhole := New[string]()
	if err := jWhole.SyncReceive(whole); err != nil {
		t.Fatal(err)
	}

	if jSplit.LSN() != jWhole.LSN() {
		t.Fatalf("lsn mismatch: split=%d whole=%d", jSplit.LSN(), jWhole.LSN())
	}
	for i, e := range jSplit.Snapshot() {
		if e != jWhole.Snapshot()[i] {
			t.Fatalf("entry %d mismatch: %+v vs %+v", i, e, jWhole.Snapshot()[i])
		}
	}
}

func TestSyncReceiveGap(t *testing.T) {
	j := New[string]()
	if _, err := j.Append("a"); err != nil {
		t.Fatal(err)
	}

	// tip is 1; a partial starting at 5 is a gap.
	p := Partial[string]{Base: 5, Entries: []Entry[string]{{5, "z"}}}
	if err := j.SyncReceive(p); err == nil {
		t.Fatal("expected ErrGap, got nil")
	}
}

func TestSyncReceiveDivergence(t *testing.T) {
	j := New[string]()
	if _, err := j.Append("a"); err != nil {
		t.Fatal(err)
	}

	p := Partial[string]{Base: 0, Entries: []Entry[string]{{0, "different"}}}
	if err := j.SyncReceive(p); err == nil {
		t.Fatal("expected ErrDivergence, got nil")
	}
}

func TestTruncateTo(t *testing.T) {
	j := New[string]()
	for _, v := range []string{"a", "b", "c"} {
		if _, err := j.Append(v); err != nil {
			t.Fatal(err)
		}
	}

	if err := j.TruncateTo(1); err != nil {
		t.Fatal(err)
	}
	if j.Base() != 1 {
		t.Fatalf("base = %d, want 1", j.Base())
	}
	if j.LSN() != 3 {
		t.Fatalf("tip changed by truncate: LSN()=%d", j.LSN())
	}

	// no-op when target <= base
	if err := j.TruncateTo(0); err != nil {
		t.Fatal(err)
	}
	if j.Base() != 1 {
		t.Fatalf("base changed on no-op truncate: %d", j.Base())
	}

	// out of range
	if err := j.TruncateTo(100); err == nil {
		t.Fatal("expected ErrOutOfRange")
	}
}

func TestRollupFoldsPrefix(t *testing.T) {
	j := New[int]()
	for _, v := range []int{1, 2, 3, 4} {
		if _, err := j.Append(v); err != nil {
			t.Fatal(err)
		}
	}

	tipBefore := j.LSN()
	err := j.Rollup(2, func(entries []Entry[int]) (int, bool) {
		sum := 0
		for _, e := range entries {
			sum += e.Value
		}
		return sum, true // 1+2 == 3
	})
	if err != nil {
		t.Fatal(err)
	}
	if j.LSN() != tipBefore {
		t.Fatalf("rollup changed tip: before=%d after=%d", tipBefore, j.LSN())
	}

	snap := j.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("want 3 live entries after rollup, got %d: %+v", len(snap), snap)
	}
	if snap[0].Value != 3 || snap[0].LSN != 1 {
		t.Fatalf("synthesized entry wrong: %+v", snap[0])
	}
	if snap[1].Value != 3 || snap[2].Value != 4 {
		t.Fatalf("tail entries wrong: %+v", snap)
	}
}

func TestRollupDiscardPrefix(t *testing.T) {
	j := New[int]()
	for _, v := range []int{1, 2, 3} {
		if _, err := j.Append(v); err != nil {
			t.Fatal(err)
		}
	}

	if err := j.Rollup(2, func([]Entry[int]) (int, bool) { return 0, false }); err != nil {
		t.Fatal(err)
	}
	if j.Base() != 2 {
		t.Fatalf("base = %d, want 2", j.Base())
	}
	snap := j.Snapshot()
	if len(snap) != 1 || snap[0].Value != 3 {
		t.Fatalf("unexpected snapshot after discard rollup: %+v", snap)
	}
}

func TestAllIteratesInOrder(t *testing.T) {
	j := New[int]()
	for _, v := range []int{10, 20, 30} {
		if _, err := j.Append(v); err != nil {
			t.Fatal(err)
		}
	}

	var got []int
	for _, v := range j.All() {
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != 10 || got[2] != 30 {
		t.Fatalf("unexpected forward iteration: %v", got)
	}

	got = nil
	for _, v := range j.Backward() {
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != 30 || got[2] != 10 {
		t.Fatalf("unexpected backward iteration: %v", got)
	}
}
