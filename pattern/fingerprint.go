// Package pattern implements the pattern-evolution engine: fingerprinting
// of page contexts, similarity matching over stored patterns, pattern
// transfer to new contexts, success tracking, and auto-generalization of
// recurring successes into parent concepts.
package pattern

import (
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// FingerprintVersion is bumped when the token derivation changes, so stored
// fingerprints can be re-derived.
const FingerprintVersion = 1

// attrWhitelist is the fixed set of attributes scraped from form controls.
var attrWhitelist = map[string]bool{
	"type":         true,
	"name":         true,
	"id":           true,
	"autocomplete": true,
	"placeholder":  true,
	"aria-label":   true,
}

// formControlTags are the input/button-like elements contributing tokens.
var formControlTags = map[string]bool{
	"input":    true,
	"button":   true,
	"select":   true,
	"textarea": true,
}

// Fingerprint is a deterministic, order-independent token-set summary of a
// (url, html) pair. Identical inputs always fingerprint identically.
type Fingerprint struct {
	Version int      `json:"version"`
	Domain  string   `json:"domain"`
	Path    string   `json:"path"`
	Tokens  []string `json:"tokens"`
}

// NewFingerprint derives a fingerprint from a page URL and its HTML. Tokens
// come from the URL domain and path plus whitelisted attributes of form
// controls, lower-cased and split on non-alphanumeric boundaries; the token
// list is sorted and de-duplicated for reproducibility.
func NewFingerprint(pageURL, pageHTML string) Fingerprint {
	fp := Fingerprint{Version: FingerprintVersion}

	set := make(map[string]bool)
	if u, err := url.Parse(pageURL); err == nil {
		fp.Domain = strings.ToLower(u.Hostname())
		fp.Path = u.Path
		addTokens(set, fp.Domain)
		addTokens(set, fp.Path)
	}

	z := html.NewTokenizer(strings.NewReader(pageHTML))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		token := z.Token()
		if !formControlTags[token.Data] {
			continue
		}
		for _, attr := range token.Attr {
			if attrWhitelist[attr.Key] {
				addTokens(set, attr.Val)
			}
		}
	}

	fp.Tokens = make([]string, 0, len(set))
	for t := range set {
		fp.Tokens = append(fp.Tokens, t)
	}
	sort.Strings(fp.Tokens)
	return fp
}

// addTokens splits a value on non-alphanumeric boundaries and adds the
// lower-cased pieces to the set.
func addTokens(set map[string]bool, value string) {
	fields := strings.FieldsFunc(strings.ToLower(value), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	for _, f := range fields {
		set[f] = true
	}
}

// Jaccard is |intersection| / |union| over two token sets; an empty union
// yields 0.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.0
	}
	inA := make(map[string]bool, len(a))
	for _, t := range a {
		inA[t] = true
	}
	union := make(map[string]bool, len(a)+len(b))
	for t := range inA {
		union[t] = true
	}
	intersection := 0
	seenB := make(map[string]bool, len(b))
	for _, t := range b {
		if seenB[t] {
			continue
		}
		seenB[t] = true
		union[t] = true
		if inA[t] {
			intersection++
		}
	}
	if len(union) == 0 {
		return 0.0
	}
	return float64(intersection) / float64(len(union))
}
