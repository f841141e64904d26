// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jllopis/conclave/pkg/persona"
	"github.com/jllopis/conclave/pkg/session"
)

// Visible returns the skills p may see, in match order.
func Visible(all []Skill, p persona.Persona) []Skill {
	out := make([]Skill, 0, len(all))
	for _, s := range all {
		if s.VisibleTo(p) {
			out = append(out, s)
		}
	}
	Order(out)
	return out
}

// FindSkillsFor returns the candidates for Tier-2 injection: skills visible
// to p whose trigger matches text and that were not injected already.
func FindSkillsFor(all []Skill, p persona.Persona, text string, alreadyInjected session.IDSet) []Skill {
	haystack := normalizeText(text)
	out := make([]Skill, 0, len(all))
	for _, s := range all {
		if !s.VisibleTo(p) || alreadyInjected.Has(s.ID) {
			continue
		}
		if !triggered(s.Trigger, haystack) {
			continue
		}
		out = append(out, s)
	}
	Order(out)
	return out
}

// Order sorts skills persona-scoped first, then by sort order, name and id.
func Order(ss []Skill) {
	sort.SliceStable(ss, func(i, j int) bool {
		a, b := ss[i], ss[j]
		if a.Global() != b.Global() {
			return !a.Global()
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		if la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name); la != lb {
			return la < lb
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

// Triggered reports whether any comma-separated phrase of trigger appears
// in text as a whole word or phrase, ignoring case. An empty trigger is
// always-on.
func Triggered(trigger, text string) bool {
	return triggered(trigger, normalizeText(text))
}

func triggered(trigger, haystack string) bool {
	phrases := splitTrigger(trigger)
	if len(phrases) == 0 {
		return true
	}
	for _, phrase := range phrases {
		if containsPhrase(haystack, phrase) {
			return true
		}
	}
	return false
}

func splitTrigger(trigger string) []string {
	var out []string
	for _, part := range strings.Split(trigger, ",") {
		if p := normalizeText(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeText lowercases and collapses whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func containsPhrase(haystack, phrase string) bool {
	for start := 0; start <= len(haystack)-len(phrase); {
		i := strings.Index(haystack[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		if boundaryBefore(haystack, i) && boundaryAfter(haystack, end) {
			return true
		}
		start = i + 1
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
