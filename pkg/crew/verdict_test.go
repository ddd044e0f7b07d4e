package crew_test

import (
	"testing"

	"pimsg/pkg/crew"
)

func TestParseVerdictShip(t *testing.T) {
	t.Parallel()

	output := `Some preamble.

## Verdict: SHIP

Clean implementation, tests cover the edge cases.

## Issues

## Suggestions
- consider caching the peer list
`
	v := crew.ParseVerdict(output)
	if v.Verdict != crew.VerdictShip {
		t.Errorf("verdict = %s, want SHIP", v.Verdict)
	}
	if v.Summary != "Clean implementation, tests cover the edge cases." {
		t.Errorf("summary = %q", v.Summary)
	}
	if len(v.Issues) != 0 {
		t.Errorf("issues = %v, want none", v.Issues)
	}
	if len(v.Suggestions) != 1 {
		t.Errorf("suggestions = %v, want 1", v.Suggestions)
	}
}

func TestParseVerdictNeedsWorkWithIssues(t *testing.T) {
	t.Parallel()

	output := `Verdict: NEEDS_WORK

The error path drops the lock.

### Issues
- lock released twice on retry
- missing test for stale entries

### Suggestions
- extract the retry loop
`
	v := crew.ParseVerdict(output)
	if v.Verdict != crew.VerdictNeedsWork {
		t.Errorf("verdict = %s", v.Verdict)
	}
	if len(v.Issues) != 2 {
		t.Fatalf("issues = %v, want 2", v.Issues)
	}
	if v.Issues[0] != "lock released twice on retry" {
		t.Errorf("issue 0 = %q", v.Issues[0])
	}
	if len(v.Suggestions) != 1 {
		t.Errorf("suggestions = %v", v.Suggestions)
	}
}

func TestParseVerdictMajorRethink(t *testing.T) {
	t.Parallel()

	v := crew.ParseVerdict("**Verdict**: MAJOR_RETHINK\n\nThe design conflicts with the storage layout.\n")
	if v.Verdict != crew.VerdictMajorRethink {
		t.Errorf("verdict = %s", v.Verdict)
	}
	if v.Summary == "" {
		t.Error("summary empty")
	}
}

func TestParseVerdictMalformedDefaultsToNeedsWork(t *testing.T) {
	t.Parallel()

	for _, output := range []string{"", "no verdict here", "Verdict: MAYBE"} {
		v := crew.ParseVerdict(output)
		if v.Verdict != crew.VerdictNeedsWork {
			t.Errorf("ParseVerdict(%q).Verdict = %s, want NEEDS_WORK", output, v.Verdict)
		}
		if len(v.Issues) != 0 {
			t.Errorf("malformed input produced issues: %v", v.Issues)
		}
	}
}
