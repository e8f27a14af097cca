package commit

import (
	"testing"
	"time"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/clock"
)

func TestPatternClassifier(t *testing.T) {
	c := NewPatternClassifier()

	tests := []struct {
		in   string
		want Category
	}{
		{"", Immediate},
		{"123", Immediate},
		{"abc", Immediate},
		{"abc ", Immediate},
		{" abc", Immediate},
		{"a-b", Immediate},
		{"hello world", LatinSpaced},
		{"deluxe  twin room", LatinSpaced},
		{"Room 101", LatinSpaced},
		{"Mr. Kim", LatinSpaced},
		{"hello, world", LatinSpaced},
		{"101 B", LatinSpaced},
		{" Room 101 ", LatinSpaced},
		{"Room101", Immediate},
		{"가", Composed},
		{"ㄱ", Composed},
		{"호텔", Composed},
		{"호텔 ", Composed},
		{"호텔 객실", ComposedSpaced},
		{"2인실", ComposedDigits},
		{"객실 2", ComposedDigits},
		{"호텔 room", Composed},
		{"room 호텔", Composed},
		{"12 34", Immediate},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.in))
		})
	}
}

func TestPatternClassifierCustomScripts(t *testing.T) {
	c := NewPatternClassifier(unicode.Han, unicode.Hiragana)
	assert.Equal(t, Composed, c.Classify("東京"))
	assert.Equal(t, Composed, c.Classify("ひらがな"))
	assert.Equal(t, Immediate, c.Classify("가"), "Hangul is not configured")
}

func TestScriptTables(t *testing.T) {
	tables, err := ScriptTables([]string{"Hangul", "Han"})
	require.NoError(t, err)
	assert.Len(t, tables, 2)

	_, err = ScriptTables([]string{"Klingon"})
	assert.Error(t, err)
}

func TestParseCategory(t *testing.T) {
	for _, c := range Categories() {
		got, err := ParseCategory(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCategory("bogus")
	assert.Error(t, err)
}

func TestPolicyFromMillis(t *testing.T) {
	p, err := PolicyFromMillis(map[string]int{"composed": 600})
	require.NoError(t, err)
	assert.Equal(t, 600*time.Millisecond, p.Delay(Composed))
	assert.Equal(t, 200*time.Millisecond, p.Delay(ComposedDigits))
	assert.Equal(t, time.Duration(0), p.Delay(Immediate))

	_, err = PolicyFromMillis(map[string]int{"composed": -1})
	assert.Error(t, err)
	_, err = PolicyFromMillis(map[string]int{"nope": 1})
	assert.Error(t, err)

	assert.Equal(t, 600, p.Millis()["composed"])
	assert.Equal(t, 600*time.Millisecond, p.Longest())
	assert.Equal(t, 400*time.Millisecond, DefaultPolicy().Longest())
}

func newTestScheduler() (*Scheduler, *clock.EventTimeSource) {
	ts := clock.NewEventTimeSource()
	return NewScheduler(nil, nil, clock.NewScheduler(ts), ts), ts
}

func TestSchedulerImmediateFiresSynchronously(t *testing.T) {
	s, _ := newTestScheduler()

	var fired []string
	req := s.Schedule("123", func(r Request) { fired = append(fired, r.Value) })

	assert.Equal(t, Immediate, req.Category)
	assert.Equal(t, []string{"123"}, fired)
	_, ok := s.Pending()
	assert.False(t, ok)
}

func TestSchedulerCoalesces(t *testing.T) {
	s, ts := newTestScheduler()

	var fired []string
	fire := func(r Request) { fired = append(fired, r.Value) }

	s.Schedule("가", fire)
	ts.Advance(100 * time.Millisecond)
	s.Schedule("가나", fire)
	ts.Advance(100 * time.Millisecond)
	s.Schedule("가나다", fire)

	pending, ok := s.Pending()
	require.True(t, ok)
	assert.Equal(t, "가나다", pending.Value)
	assert.Equal(t, clock.Epoch.Add(600*time.Millisecond), pending.Due())

	ts.Advance(399 * time.Millisecond)
	assert.Empty(t, fired)
	ts.Advance(time.Millisecond)
	assert.Equal(t, []string{"가나다"}, fired)

	_, ok = s.Pending()
	assert.False(t, ok)
}

func TestSchedulerCancel(t *testing.T) {
	s, ts := newTestScheduler()

	fired := 0
	s.Schedule("호텔", func(Request) { fired++ })
	assert.True(t, s.Cancel())
	assert.False(t, s.Cancel(), "second cancel is a no-op")

	ts.Advance(time.Second)
	assert.Equal(t, 0, fired)
}

func TestSchedulerImmediateCancelsPending(t *testing.T) {
	s, ts := newTestScheduler()

	var fired []string
	fire := func(r Request) { fired = append(fired, r.Value) }

	s.Schedule("호텔", fire)
	s.Schedule("42", fire)
	ts.Advance(time.Second)

	assert.Equal(t, []string{"42"}, fired)
}

func TestSchedulerSwapPolicyAndClassifier(t *testing.T) {
	s, ts := newTestScheduler()

	s.SetPolicy(Policy{Immediate: 50 * time.Millisecond})
	s.SetClassifier(ClassifierFunc(func(string) Category { return Immediate }))

	cat, delay := s.Classify("anything")
	assert.Equal(t, Immediate, cat)
	assert.Equal(t, 50*time.Millisecond, delay)

	fired := false
	s.Schedule("anything", func(Request) { fired = true })
	assert.False(t, fired)
	ts.Advance(50 * time.Millisecond)
	assert.True(t, fired)
}
