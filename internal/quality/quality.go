// Package quality scores scraped postings and rejects unusable ones.
package quality

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/remotehive-autoscraper/internal/scraper"
)

// Severity grades an Issue.
type Severity string

// Severities in increasing order.
const (
	Info     Severity = "info"
	Warning  Severity = "warning"
	Error    Severity = "error"
	Critical Severity = "critical"
)

var penalties = map[Severity]float64{
	Info:     0.05,
	Warning:  0.15,
	Error:    0.30,
	Critical: 0.50,
}

// Issue is one validation finding.
type Issue struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
}

// Report is the outcome of Validate.
type Report struct {
	Valid  bool    `json:"is_valid"`
	Score  float64 `json:"quality_score"`
	Issues []Issue `json:"issues"`
}

const (
	minTitle       = 10
	maxTitle       = 200
	minDescription = 50
	maxDescription = 10000
	minCompany     = 2
	maxCompany     = 100
)

var spamKeywords = []struct {
	phrase string
	weight int
}{
	{"make money fast", 3},
	{"work from home easy", 3},
	{"no experience required", 3},
	{"guaranteed income", 3},
	{"urgent hiring", 2},
	{"immediate start", 2},
	{"no interview", 2},
	{"cash payment", 2},
	{"flexible hours", 1},
	{"part time", 1},
	{"remote work", 1},
	{"competitive salary", 1},
}

var amountPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?\s*k?`)

// Validate checks p at time now.
func Validate(p scraper.Posting, now time.Time) Report {
	var issues []Issue
	add := func(rule string, sev Severity, field, format string, args ...any) {
		issues = append(issues, Issue{Rule: rule, Severity: sev, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	required := []struct {
		field string
		value string
		sev   Severity
	}{
		{"title", p.Title, Critical},
		{"company", p.Company, Error},
		{"location", p.Location, Warning},
		{"description", p.Description, Error},
		{"url", p.URL, Critical},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			add("required_fields", r.sev, r.field, "required field %q is missing or empty", r.field)
		}
	}

	checkLength := func(field, value string, lo, hi int, longSev Severity) {
		n := utf8.RuneCountInString(strings.TrimSpace(value))
		switch {
		case n == 0:
		case n < lo:
			add("field_length", Warning, field, "%s too short (%d chars, minimum %d)", field, n, lo)
		case n > hi:
			add("field_length", longSev, field, "%s too long (%d chars, maximum %d)", field, n, hi)
		}
	}
	checkLength("title", p.Title, minTitle, maxTitle, Warning)
	checkLength("description", p.Description, minDescription, maxDescription, Info)
	checkLength("company", p.Company, minCompany, maxCompany, Warning)

	if raw := strings.TrimSpace(p.URL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("url_validity", Error, "url", "invalid url %q", raw)
		}
	}

	if p.PostedAt != nil && p.PostedAt.After(now.Add(24*time.Hour)) {
		add("date_validity", Warning, "posted_at", "posted date is in the future")
	}

	issues = append(issues, salaryIssues(p.Salary)...)
	if issue, ok := spamIssue(p); ok {
		issues = append(issues, issue)
	}

	return Report{Valid: valid(issues), Score: score(issues), Issues: issues}
}

func valid(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == Error || i.Severity == Critical {
			return false
		}
	}
	return true
}

func score(issues []Issue) float64 {
	total := 0.0
	for _, i := range issues {
		total += penalties[i.Severity]
	}
	return math.Round(math.Max(0, 1-total)*1000) / 1000
}

// salaryIssues flags implausible amounts. "80k" counts as 80000.
func salaryIssues(salary string) []Issue {
	text := strings.ToLower(strings.TrimSpace(salary))
	if text == "" {
		return nil
	}
	var amounts []float64
	for _, m := range amountPattern.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		mult := 1.0
		if strings.HasSuffix(m, "k") {
			mult = 1000
			m = strings.TrimSpace(strings.TrimSuffix(m, "k"))
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		if err != nil {
			continue
		}
		amounts = append(amounts, v*mult)
	}
	if len(amounts) == 0 {
		return []Issue{{Rule: "salary_range", Severity: Warning, Field: "salary", Message: "could not parse salary amounts"}}
	}

	var issues []Issue
	lo, hi := amounts[0], amounts[0]
	for _, a := range amounts[1:] {
		lo, hi = math.Min(lo, a), math.Max(hi, a)
	}
	if hi > 1_000_000 {
		issues = append(issues, Issue{Rule: "salary_range", Severity: Warning, Field: "salary", Message: fmt.Sprintf("unusually high salary amount: %.0f", hi)})
	}
	if lo < 1000 && !strings.Contains(text, "hour") && !strings.Contains(text, "/hr") {
		issues = append(issues, Issue{Rule: "salary_range", Severity: Warning, Field: "salary", Message: fmt.Sprintf("unusually low salary amount: %.0f", lo)})
	}
	if len(amounts) == 2 && amounts[0] > amounts[1] {
		issues = append(issues, Issue{Rule: "salary_range", Severity: Error, Field: "salary", Message: "salary range appears inverted"})
	}
	return issues
}

func spamIssue(p scraper.Posting) (Issue, bool) {
	content := strings.ToLower(strings.Join([]string{p.Title, p.Description, p.Company}, " "))
	points := 0
	for _, kw := range spamKeywords {
		if strings.Contains(content, kw.phrase) {
			points += kw.weight
		}
	}
	if capsRatio(p.Title) > 0.7 {
		points += 2
	}
	if strings.Count(p.Description, "!")+strings.Count(p.Description, "?") > 10 {
		points++
	}

	var sev Severity
	switch {
	case points >= 5:
		sev = Error
	case points >= 3:
		sev = Warning
	case points >= 1:
		sev = Info
	default:
		return Issue{}, false
	}
	return Issue{
		Rule:     "spam_detection",
		Severity: sev,
		Field:    "content",
		Message:  fmt.Sprintf("spam score %d", points),
	}, true
}

// capsRatio is the share of upper-case runes in s.
func capsRatio(s string) float64 {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	upper := 0
	for _, r := range s {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return float64(upper) / float64(n)
}
