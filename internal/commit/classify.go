// Package commit decides when an edited field value is reported outward.
//
// A Classifier sorts the candidate value into a Category, a Policy maps the
// category to a debounce delay, and a Scheduler keeps at most one pending
// commit per field, replacing it on every new edit (last write wins).
package commit

import (
	"fmt"
	"strings"
	"unicode"
)

// Category is the classification of a candidate value.
type Category int

const (
	// Immediate covers pure digits, symbols and single tokens.
	Immediate Category = iota
	// ComposedDigits mixes composed-script characters and digits.
	ComposedDigits
	// ComposedSpaced has composed-script runs separated by whitespace.
	ComposedSpaced
	// Composed contains composed-script characters.
	Composed
	// LatinSpaced has Latin words separated by interior whitespace.
	LatinSpaced
)

var categoryNames = [...]string{
	Immediate:      "immediate",
	ComposedDigits: "composed_digits",
	ComposedSpaced: "composed_spaced",
	Composed:       "composed",
	LatinSpaced:    "latin_spaced",
}

// Categories lists every category in declaration order.
func Categories() []Category {
	return []Category{Immediate, ComposedDigits, ComposedSpaced, Composed, LatinSpaced}
}

func (c Category) String() string {
	if c >= 0 && int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// ParseCategory parses a category name as produced by String.
func ParseCategory(name string) (Category, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range categoryNames {
		if n == name {
			return Category(i), nil
		}
	}
	return Immediate, fmt.Errorf("unknown category %q", name)
}

// Classifier assigns a Category to a candidate value.
type Classifier interface {
	Classify(value string) Category
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(value string) Category

// Classify calls f(value).
func (f ClassifierFunc) Classify(value string) Category {
	return f(value)
}

// DefaultScripts are the scripts treated as composed when none are given.
var DefaultScripts = []string{"Hangul"}

// PatternClassifier classifies by scanning runes. Scripts lists the
// Unicode scripts whose characters are produced by multi-keystroke
// composition.
type PatternClassifier struct {
	Scripts []*unicode.RangeTable
}

// NewPatternClassifier returns a classifier for the given scripts, or for
// DefaultScripts when none are given.
func NewPatternClassifier(scripts ...*unicode.RangeTable) *PatternClassifier {
	if len(scripts) == 0 {
		scripts, _ = ScriptTables(DefaultScripts)
	}
	return &PatternClassifier{Scripts: scripts}
}

// ScriptTables resolves Unicode script names such as "Hangul" or "Han".
func ScriptTables(names []string) ([]*unicode.RangeTable, error) {
	tables := make([]*unicode.RangeTable, 0, len(names))
	for _, name := range names {
		table, ok := unicode.Scripts[name]
		if !ok {
			return nil, fmt.Errorf("unknown unicode script %q", name)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// runeClass is the coarse class of a rune for the spacing rules.
type runeClass int

const (
	classOther runeClass = iota
	classComposed
	classLatin
	classSpace
)

// Classify implements Classifier. Precedence: composed+digits, composed
// runs split by whitespace, composed, Latin text with interior whitespace,
// everything else.
func (p *PatternClassifier) Classify(value string) Category {
	var hasComposed, hasDigit, hasLatin, composedSpaced, interiorSpace bool

	// prev is the last non-space class seen; afterGap is set when
	// whitespace followed a non-space rune.
	prev := classSpace
	afterGap := false

	for _, r := range value {
		c := p.class(r)
		if c == classSpace {
			if prev != classSpace {
				afterGap = true
			}
			continue
		}
		if afterGap {
			interiorSpace = true
		}
		switch c {
		case classComposed:
			hasComposed = true
			if afterGap && prev == classComposed {
				composedSpaced = true
			}
		case classLatin:
			hasLatin = true
		default:
			if unicode.IsDigit(r) {
				hasDigit = true
			}
		}
		prev = c
		afterGap = false
	}

	switch {
	case hasComposed && hasDigit:
		return ComposedDigits
	case composedSpaced:
		return ComposedSpaced
	case hasComposed:
		return Composed
	case hasLatin && interiorSpace:
		return LatinSpaced
	default:
		return Immediate
	}
}
