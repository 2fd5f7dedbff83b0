package intent

import (
	"regexp"
	"strings"
)

// Hints are the literal anchors pulled out of a message: addresses, quoted
// phrases, and capitalized name candidates. They seed the keyed-lookup pass
// of retrieval, which runs even when semantic search is down.
type Hints struct {
	// Emails are literal addresses found in the message, lowercased.
	Emails []string
	// Phrases are quoted spans, taken verbatim without the quotes.
	Phrases []string
	// Names are capitalized word runs that look like person or org names.
	Names []string
}

// Empty reports whether no hints were found.
func (h Hints) Empty() bool {
	return len(h.Emails) == 0 && len(h.Phrases) == 0 && len(h.Names) == 0
}

var (
	emailRe  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	quotedRe = regexp.MustCompile(`"([^"]{2,80})"|'([^']{2,80})'`)
	// Two or more capitalized words in a row ("Laura Hodgson"), or one
	// capitalized word not at sentence start.
	nameRunRe = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)+\b`)
)

// nameStoplist filters capitalized words that start sentences or are common
// message vocabulary, which would otherwise flood the hint pass.
var nameStoplist = map[string]bool{
	"i": true, "the": true, "a": true, "an": true, "please": true,
	"can": true, "could": true, "would": true, "should": true,
	"what": true, "when": true, "where": true, "who": true, "why": true,
	"how": true, "did": true, "do": true, "does": true, "is": true,
	"are": true, "was": true, "were": true, "has": true, "have": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
	"january": true, "february": true, "march": true, "april": true,
	"may": true, "june": true, "july": true, "august": true,
	"september": true, "october": true, "november": true, "december": true,
}

// ExtractHints pulls entity hints from a message. It is deliberately
// conservative: a missed hint costs one retrieval pass, a bad hint pollutes
// the context.
func ExtractHints(message string) Hints {
	var h Hints
	seen := map[string]bool{}

	for _, m := range emailRe.FindAllString(message, -1) {
		addr := strings.ToLower(m)
		if !seen["e:"+addr] {
			seen["e:"+addr] = true
			h.Emails = append(h.Emails, addr)
		}
	}

	for _, m := range quotedRe.FindAllStringSubmatch(message, -1) {
		phrase := m[1]
		if phrase == "" {
			phrase = m[2]
		}
		phrase = strings.TrimSpace(phrase)
		if phrase != "" && !seen["p:"+phrase] {
			seen["p:"+phrase] = true
			h.Phrases = append(h.Phrases, phrase)
		}
	}

	for _, m := range nameRunRe.FindAllString(message, -1) {
		if nameInStoplist(m) {
			continue
		}
		if !seen["n:"+m] {
			seen["n:"+m] = true
			h.Names = append(h.Names, m)
		}
	}

	return h
}

func nameInStoplist(name string) bool {
	for _, word := range strings.Fields(name) {
		if !nameStoplist[strings.ToLower(word)] {
			return false
		}
	}
	return true
}
