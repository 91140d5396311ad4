// Package language holds the fixed table of languages the translator supports and
// the NLLB-200 tags they map to.
package language

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Tag is an NLLB-200 language code such as "eng_Latn".
type Tag string

const (
	English Tag = "eng_Latn"
	Kurdish Tag = "ckb_Arab"
)

var ErrUnsupported = errors.New("unsupported language")

type Language struct {
	Tag    Tag    `json:"tag"`
	Name   string `json:"name"`
	Native string `json:"native"`
	// RTL is true for scripts written right to left; the UI flips text direction.
	RTL    bool                `json:"rtl"`
	Script *unicode.RangeTable `json:"-"`
}

// Table is an ordered, immutable set of languages.
type Table struct {
	langs []Language
	byTag map[Tag]int
}

func NewTable(langs ...Language) *Table {
	t := &Table{
		langs: append([]Language(nil), langs...),
		byTag: make(map[Tag]int, len(langs)),
	}
	for i, l := range t.langs {
		t.byTag[l.Tag] = i
	}
	return t
}

// Default is the English/Kurdish table the service ships with.
func Default() *Table {
	return NewTable(
		Language{Tag: English, Name: "English", Native: "English", Script: unicode.Latin},
		Language{Tag: Kurdish, Name: "Kurdish", Native: "کوردی", RTL: true, Script: unicode.Arabic},
	)
}

func (t *Table) All() []Language {
	return append([]Language(nil), t.langs...)
}

func (t *Table) Lookup(tag Tag) (Language, error) {
	i, ok := t.byTag[tag]
	if !ok {
		return Language{}, fmt.Errorf("%w: %q", ErrUnsupported, tag)
	}
	return t.langs[i], nil
}

func (t *Table) Supports(tag Tag) bool {
	_, ok := t.byTag[tag]
	return ok
}

// Parse accepts a tag ("ckb_Arab") or a display name ("kurdish"), case-insensitively.
func (t *Table) Parse(s string) (Tag, error) {
	s = strings.TrimSpace(s)
	for _, l := range t.langs {
		if strings.EqualFold(string(l.Tag), s) || strings.EqualFold(l.Name, s) {
			return l.Tag, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, s)
}

// Other returns the counterpart of tag in a two-language table.
func (t *Table) Other(tag Tag) (Tag, error) {
	if !t.Supports(tag) {
		return "", fmt.Errorf("%w: %q", ErrUnsupported, tag)
	}
	for _, l := range t.langs {
		if l.Tag != tag {
			return l.Tag, nil
		}
	}
	return "", fmt.Errorf("%w: no counterpart for %q", ErrUnsupported, tag)
}

// Direction is an ordered source/target pair.
type Direction struct {
	Source Tag `json:"source"`
	Target Tag `json:"target"`
}

func (d Direction) Swap() Direction {
	return Direction{Source: d.Target, Target: d.Source}
}

func (d Direction) String() string {
	return string(d.Source) + "->" + string(d.Target)
}

// Label renders the direction the way the UI selector shows it, e.g. "English → Kurdish".
func (t *Table) Label(d Direction) string {
	src, err := t.Lookup(d.Source)
	if err != nil {
		return d.String()
	}
	tgt, err := t.Lookup(d.Target)
	if err != nil {
		return d.String()
	}
	return src.Name + " → " + tgt.Name
}

// Directions lists every ordered pair of distinct languages in table order.
func (t *Table) Directions() []Direction {
	var out []Direction
	for _, a := range t.langs {
		for _, b := range t.langs {
			if a.Tag != b.Tag {
				out = append(out, Direction{Source: a.Tag, Target: b.Tag})
			}
		}
	}
	return out
}

// InScript reports whether every letter in s belongs to the language's script.
// Digits, punctuation and spaces are ignored; a string with no letters is false.
func (l Language) InScript(s string) bool {
	if l.Script == nil {
		return false
	}
	letters := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if !unicode.Is(l.Script, r) {
			return false
		}
	}
	return letters > 0
}
