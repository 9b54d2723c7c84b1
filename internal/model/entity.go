package model

import (
	"sort"
	"strings"
)

// Entity is the canonical, upper-cased identifier of a tracked instrument.
type Entity string

// NormalizeEntity trims and upper-cases a user-supplied name. Names that are
// not valid entities normalize to "".
func NormalizeEntity(s string) Entity {
	e := Entity(strings.ToUpper(strings.TrimSpace(s)))
	if !ValidEntity(e) {
		return ""
	}
	return e
}

// ValidEntity reports whether e is a ticker symbol: upper-case ASCII
// letters, digits and . ^ = - with at least one letter or digit. Entities
// name files, so separators and ".." are never valid.
func ValidEntity(e Entity) bool {
	if e == "" || strings.Contains(string(e), "..") {
		return false
	}
	alnum := false
	for _, r := range e {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			alnum = true
		case r == '.', r == '^', r == '=', r == '-':
		default:
			return false
		}
	}
	return alnum
}

// ParseEntities splits a free-form list separated by commas and/or spaces,
// normalizing and de-duplicating while keeping first-seen order. Invalid
// names are dropped.
func ParseEntities(s string) []Entity {
	valid, _ := SplitEntities(s)
	return valid
}

// SplitEntities is ParseEntities that also returns the names it rejected.
func SplitEntities(s string) ([]Entity, []string) {
	var valid []Entity
	var invalid []string
	for _, f := range strings.Fields(strings.ReplaceAll(s, ",", " ")) {
		if e := NormalizeEntity(f); e != "" {
			valid = append(valid, e)
			continue
		}
		invalid = append(invalid, f)
	}
	return UniqueEntities(valid), invalid
}

// UniqueEntities drops empty and repeated names, keeping first-seen order.
func UniqueEntities(in []Entity) []Entity {
	seen := make(map[Entity]bool, len(in))
	out := make([]Entity, 0, len(in))
	for _, e := range in {
		e = NormalizeEntity(string(e))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// SortEntities sorts in place and returns es.
func SortEntities(es []Entity) []Entity {
	sort.Slice(es, func(i, j int) bool { return es[i] < es[j] })
	return es
}
