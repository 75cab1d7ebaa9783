package output

import (
	"strings"
	"testing"
	"time"

	"github.com/marcus/syncdb/internal/remote"
)

func TestFormatOutcome(t *testing.T) {
	cases := []struct {
		outcome remote.Outcome
		want    string
	}{
		{remote.Applied, "applied"},
		{remote.Poisoned, "poisoned"},
		{remote.Idle, "idle"},
	}
	for _, c := range cases {
		got := FormatOutcome(c.outcome)
		if !strings.Contains(got, c.want) {
			t.Errorf("FormatOutcome(%v) = %q, want substring %q", c.outcome, got, c.want)
		}
	}
}

func TestFormatClientLine(t *testing.T) {
	line := FormatClientLine("c-phone", 3, 41)
	if !strings.Contains(line, "c-phone") || !strings.Contains(line, "pending=3") || !strings.Contains(line, "applied=41") {
		t.Fatalf("unexpected client line: %q", line)
	}
}

func TestFormatPoisonLine(t *testing.T) {
	line := FormatPoisonLine("c-phone", 7, "constraint violation")
	if !strings.Contains(line, "c-phone") || !strings.Contains(line, "lsn 7") || !strings.Contains(line, "constraint violation") {
		t.Fatalf("unexpected poison line: %q", line)
	}
}

func TestFormatTimeAgo(t *testing.T) {
	if got := FormatTimeAgo(time.Now()); got != "just now" {
		t.Errorf("FormatTimeAgo(now) = %q, want \"just now\"", got)
	}
	if got := FormatTimeAgo(time.Now().Add(-2 * time.Hour)); got != "2h ago" {
		t.Errorf("FormatTimeAgo(-2h) = %q, want \"2h ago\"", got)
	}
}

func TestIndentString(t *testing.T) {
	got := IndentString("a\nb", 2)
	if got != "  a\n  b" {
		t.Errorf("IndentString = %q", got)
	}
}

func TestBulletList(t *testing.T) {
	got := BulletList([]string{"x", "y"}, 2)
	want := []string{"  - x", "  - y"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("BulletList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSectionHeader(t *testing.T) {
	if got := SectionHeader("clients"); got != "\nCLIENTS:\n" {
		t.Errorf("SectionHeader = %q", got)
	}
}
