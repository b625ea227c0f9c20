// Package match implements the substring tests used to decide whether a
// navigation is gated and which visit counter belongs to a target.
//
// No normalization is applied: matching is case-sensitive containment against
// the whole URL, so a fragment matches subdomains and path occurrences alike.
package match

import (
	"strings"

	"github.com/ppiankov/hallpass/internal/store"
)

// Matches reports whether fragment occurs anywhere in url.
func Matches(url, fragment string) bool {
	return strings.Contains(url, fragment)
}

// IsBlocked reports whether any rule matches url.
func IsBlocked(url string, rules []string) bool {
	_, ok := FirstBlocking(url, rules)
	return ok
}

// FirstBlocking returns the first rule, in list order, that matches url.
func FirstBlocking(url string, rules []string) (string, bool) {
	for _, r := range rules {
		if Matches(url, r) {
			return r, true
		}
	}
	return "", false
}

// LookupCount returns the first stored key, in storage order, that target
// contains, along with its count. First match wins even when a later key is
// more specific. Returns ("", 0) when nothing matches.
func LookupCount(target string, counts store.VisitCounts) (string, int) {
	for _, e := range counts {
		if Matches(target, e.Key) {
			return e.Key, e.Count
		}
	}
	return "", 0
}
