package dedup

import (
	"regexp"
	"strings"
)

var (
	spaceRun    = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\w\s-]`)
)

// dropWords are seniority and engagement qualifiers ignored when comparing titles.
var dropWords = map[string]struct{}{
	"senior": {}, "junior": {}, "lead": {}, "principal": {}, "staff": {},
	"remote": {}, "contract": {}, "freelance": {},
}

// dropPhrases are multi-word qualifiers removed before splitting.
var dropPhrases = []string{"entry level", "full time", "part time"}

var locationAliases = map[string]string{
	"anywhere":  "remote",
	"worldwide": "remote",
	"wfh":       "remote",
	"usa":       "united states",
	"us":        "united states",
	"uk":        "united kingdom",
	"ny":        "new york",
	"nyc":       "new york",
	"sf":        "san francisco",
	"la":        "los angeles",
}

var locationPhrases = map[string]string{
	"work from home":         "remote",
	"new york city":          "new york",
	"san francisco bay area": "san francisco",
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "for": {}, "with": {}, "are": {}, "was": {},
	"were": {}, "been": {}, "have": {}, "has": {}, "had": {}, "does": {}, "did": {},
	"will": {}, "would": {}, "could": {}, "should": {},
}

// NormalizeText lower-cases, strips punctuation, collapses whitespace and
// removes title qualifiers.
func NormalizeText(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return ""
	}
	text = punctuation.ReplaceAllString(spaceRun.ReplaceAllString(text, " "), "")
	for _, phrase := range dropPhrases {
		text = strings.ReplaceAll(text, phrase, " ")
	}
	words := strings.Fields(text)
	kept := words[:0]
	for _, w := range words {
		if _, drop := dropWords[w]; drop || strings.Trim(w, "-") == "" {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// NormalizeLocation maps common aliases word by word and drops a trailing
// country for US locations.
func NormalizeLocation(location string) string {
	loc := strings.ToLower(strings.TrimSpace(location))
	if loc == "" {
		return ""
	}
	loc = spaceRun.ReplaceAllString(loc, " ")
	for phrase, repl := range locationPhrases {
		loc = strings.ReplaceAll(loc, phrase, repl)
	}
	parts := strings.Split(loc, ",")
	for i, part := range parts {
		words := strings.Fields(strings.Trim(part, ". "))
		for j, w := range words {
			if alias, ok := locationAliases[w]; ok {
				words[j] = alias
			}
		}
		parts[i] = strings.Join(words, " ")
	}
	if n := len(parts); n > 1 && parts[n-1] == "united states" {
		parts = parts[:n-1]
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

// NormalizeURL drops the query, fragment and trailing slash and lower-cases the result.
func NormalizeURL(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(raw), "/"))
}

func tokens(title, company, location, description string) map[string]struct{} {
	set := make(map[string]struct{})
	add := func(words []string) {
		for _, w := range words {
			if len(w) <= 2 {
				continue
			}
			if _, stop := stopWords[w]; stop {
				continue
			}
			set[w] = struct{}{}
		}
	}
	add(strings.Fields(title))
	add(strings.Fields(company))
	add(strings.Fields(location))
	desc := strings.Fields(NormalizeText(description))
	if len(desc) > 100 {
		desc = desc[:100]
	}
	add(desc)
	return set
}
