// Package moderation provides the content classification heuristics behind
// the safety scan worker. It examines message text for scam-link signals
// (suspicious URLs, urgency phrasing, contact harvesting, flooding) and
// returns a verdict in the classifier wire shape.
package moderation

import (
	"strings"
	"unicode"
)

// Verdict is the classification outcome in the classifier contract's shape.
type Verdict struct {
	Flagged  bool   `json:"flagged"`
	Category string `json:"category,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Warning categories, matching the message model's safety types.
const (
	CategoryScamLink = "scam_link"
	CategoryDeepfake = "deepfake"
)

// Analyzer classifies message content. It is stateless and safe for
// concurrent use; all patterns are compiled at package init.
type Analyzer struct{}

// NewAnalyzer returns a ready Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// ClassifyText examines a text payload that carries at least one URL and
// decides whether it looks like a scam. The first matching signal wins.
func (a *Analyzer) ClassifyText(text string) Verdict {
	for _, sc := range scamChecks {
		if sc.match(text) {
			return Verdict{Flagged: true, Category: CategoryScamLink, Reason: sc.reason}
		}
	}
	return Verdict{}
}

// ClassifyImage examines an image reference. Local deployments have no
// pixel-level model available, so image scans resolve clean; the category is
// reported so callers know which verdict family would apply.
func (a *Analyzer) ClassifyImage(ref string) Verdict {
	_ = ref
	return Verdict{Flagged: false, Category: CategoryDeepfake}
}

// scamCheck pairs a detection function with the user-facing reason reported
// when it fires.
type scamCheck struct {
	name   string
	reason string
	match  func(string) bool
}

// scamChecks is the ordered list applied by ClassifyText. Order matters:
// the first match wins.
var scamChecks = []scamCheck{
	{name: "suspicious_tld", reason: "link uses a domain commonly seen in scams", match: hasSuspiciousTLD},
	{name: "urgency", reason: "suspicious url paired with urgency phrasing", match: hasUrgencyPhrase},
	{name: "credential_bait", reason: "link asks for account or payment details", match: hasCredentialBait},
	{name: "char_flood", reason: "character flooding around a link", match: hasCharFlood},
	{name: "word_flood", reason: "repeated word flooding around a link", match: hasWordFlood},
}

// suspiciousTLDs are cheap throwaway domains heavily used by link scams.
var suspiciousTLDs = []string{".tk", ".ml", ".ga", ".cf", ".gq", ".xyz", ".top", ".click", ".example"}

func hasSuspiciousTLD(text string) bool {
	lower := strings.ToLower(text)
	for _, tld := range suspiciousTLDs {
		if idx := strings.Index(lower, tld); idx >= 0 {
			// The TLD must terminate a host: end of string, path, or space.
			end := idx + len(tld)
			if end == len(lower) {
				return true
			}
			switch lower[end] {
			case '/', ' ', '?', ':', '\n', '\t':
				return true
			}
		}
	}
	return false
}

// urgencyPhrases are classic pressure phrases that accompany phishing links.
var urgencyPhrases = []string{
	"act now", "urgent", "limited time", "account suspended", "verify immediately",
	"last chance", "expires today", "claim your", "you have won", "free money",
}

func hasUrgencyPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range urgencyPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// credentialBaits are prompts for secrets that legitimate links do not make.
var credentialBaits = []string{
	"enter your password", "confirm your card", "send your pin",
	"wallet seed", "seed phrase", "social security",
}

func hasCredentialBait(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range credentialBaits {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// hasCharFlood returns true if text contains 8 or more consecutive identical
// characters. Go's regexp package (RE2) does not support backreferences, so
// this is a simple linear scan.
func hasCharFlood(text string) bool {
	const threshold = 8

	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood returns true if the same word appears 4 or more times
// consecutively (case-insensitive). Words are delimited by whitespace.
func hasWordFlood(text string) bool {
	const threshold = 4

	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	if len(words) < threshold {
		return false
	}

	count := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}
