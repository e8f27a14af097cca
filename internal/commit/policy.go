package commit

import (
	"fmt"
	"time"
)

// Policy maps each Category to its debounce delay. A zero delay, or a
// category missing from the table, commits immediately.
type Policy map[Category]time.Duration

// DefaultPolicy is the canonical delay table.
func DefaultPolicy() Policy {
	return Policy{
		ComposedDigits: 200 * time.Millisecond,
		ComposedSpaced: 300 * time.Millisecond,
		Composed:       400 * time.Millisecond,
		LatinSpaced:    250 * time.Millisecond,
		Immediate:      0,
	}
}

// Delay returns the delay for c.
func (p Policy) Delay(c Category) time.Duration {
	if d, ok := p[c]; ok && d > 0 {
		return d
	}
	return 0
}

// Longest returns the largest delay in p.
func (p Policy) Longest() time.Duration {
	var longest time.Duration
	for _, d := range p {
		longest = max(longest, d)
	}
	return longest
}

// Clone returns a copy of p.
func (p Policy) Clone() Policy {
	out := make(Policy, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// PolicyFromMillis builds a policy from category names to milliseconds,
// starting from DefaultPolicy so unspecified categories keep their defaults.
func PolicyFromMillis(ms map[string]int) (Policy, error) {
	p := DefaultPolicy()
	for name, v := range ms {
		c, err := ParseCategory(name)
		if err != nil {
			return nil, err
		}
		if v < 0 {
			return nil, fmt.Errorf("negative delay for %s: %dms", c, v)
		}
		p[c] = time.Duration(v) * time.Millisecond
	}
	return p, nil
}

// Millis converts p back to category names and milliseconds.
func (p Policy) Millis() map[string]int {
	out := make(map[string]int, len(p))
	for c, d := range p {
		out[c.String()] = int(d / time.Millisecond)
	}
	return out
}
