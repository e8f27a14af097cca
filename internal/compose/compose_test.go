package compose

import (
	"testing"
	"time"

	"fieldsync/internal/clock"
)

func newTestTracker(grace time.Duration) (*Tracker, *clock.EventTimeSource) {
	ts := clock.NewEventTimeSource()
	return NewTracker(clock.NewScheduler(ts), grace), ts
}

func TestTrackerSettlesAfterGrace(t *testing.T) {
	tr, ts := newTestTracker(DefaultGrace)

	tr.Begin()
	if !tr.Composing() {
		t.Fatal("expected composing after Begin")
	}
	tr.Update("ㄱ")
	if tr.Interim() != "ㄱ" {
		t.Errorf("interim = %q, want %q", tr.Interim(), "ㄱ")
	}

	var got []string
	final := tr.End("가", func(s string) { got = append(got, s) })
	if final != "가" {
		t.Errorf("End returned %q", final)
	}
	if tr.Composing() {
		t.Error("still composing after End")
	}
	if !tr.Settling() {
		t.Error("expected pending settle")
	}

	ts.Advance(DefaultGrace - time.Millisecond)
	if len(got) != 0 {
		t.Fatalf("settled early: %v", got)
	}
	ts.Advance(time.Millisecond)
	if len(got) != 1 || got[0] != "가" {
		t.Fatalf("settled = %v, want [가]", got)
	}
	if tr.Settling() {
		t.Error("settle still pending after firing")
	}
}

func TestTrackerBeginCancelsSettle(t *testing.T) {
	tr, ts := newTestTracker(DefaultGrace)

	calls := 0
	tr.Begin()
	tr.End("한", func(string) { calls++ })
	tr.Begin()
	ts.Advance(time.Second)

	if calls != 0 {
		t.Errorf("settle fired %d times after a new composition began", calls)
	}
	if !tr.Composing() {
		t.Error("expected second composition to be open")
	}
}

func TestTrackerAbort(t *testing.T) {
	tr, ts := newTestTracker(DefaultGrace)

	calls := 0
	tr.Begin()
	tr.End("글", func(string) { calls++ })
	tr.Abort()
	ts.Advance(time.Second)

	if calls != 0 {
		t.Errorf("settle fired after Abort")
	}
	if tr.Composing() || tr.Settling() {
		t.Error("tracker not reset by Abort")
	}
}

func TestTrackerZeroGraceSettlesImmediately(t *testing.T) {
	tr, _ := newTestTracker(0)

	var got string
	tr.Begin()
	tr.End("x", func(s string) { got = s })
	if got != "x" {
		t.Errorf("got %q, want immediate settle", got)
	}
}

func TestUpdateOutsideCompositionIgnored(t *testing.T) {
	tr, _ := newTestTracker(DefaultGrace)
	tr.Update("stray")
	if tr.Interim() != "" {
		t.Errorf("interim recorded outside composition: %q", tr.Interim())
	}
}

func TestNormalizeComposesJamo(t *testing.T) {
	// U+1100 HANGUL CHOSEONG KIYEOK + U+1161 HANGUL JUNGSEONG A
	if got := Normalize("\u1100\u1161"); got != "\uac00" {
		t.Errorf("Normalize = %q (%U), want 가", got, []rune(got))
	}
	// e + COMBINING ACUTE ACCENT
	if got := Normalize("e\u0301"); got != "\u00e9" {
		t.Errorf("Normalize = %q, want é", got)
	}
}

func TestIsCompositionInput(t *testing.T) {
	cases := map[string]bool{
		"insertCompositionText": true,
		"deleteCompositionText": true,
		"insertText":            false,
		"":                      false,
	}
	for in, want := range cases {
		if got := IsCompositionInput(in); got != want {
			t.Errorf("IsCompositionInput(%q) = %v, want %v", in, got, want)
		}
	}
}
