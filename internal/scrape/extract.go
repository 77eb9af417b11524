package scrape

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/lead-scanner/internal/model"
)

var (
	phoneInText  = regexp.MustCompile(`(\+\d{1,3}[- ]?)?\d{10}`)
	ratingInText = regexp.MustCompile(`\d+(\.\d+)?`)
	countInText  = regexp.MustCompile(`\d[\d,]*`)
	slugUnsafe   = regexp.MustCompile(`[^a-z0-9]+`)
)

// minNameLen is the shortest business name a source will keep.
const minNameLen = 4

// NormalizePhone keeps digits and a leading plus sign. A value with no
// digits becomes model.PhoneNotAvailable.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.Trim(out, "+") == "" {
		return model.PhoneNotAvailable
	}
	return out
}

// phoneDigits strips everything but digits.
func phoneDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// findPhone returns the first phone-number-looking run in text.
func findPhone(text string) string {
	return phoneInText.FindString(text)
}

// parseRating pulls the first decimal out of s, clamped to [0, 5].
func parseRating(s string) float64 {
	m := ratingInText.FindString(s)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	return min(max(v, 0), 5)
}

// parseCount pulls the first integer out of s, ignoring thousands separators.
func parseCount(s string) int {
	m := countInText.FindString(s)
	if m == "" {
		return 0
	}
	v, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0
	}
	return v
}

// slug lowercases s, spells out "&" as "and", and joins the alphanumeric
// runs with hyphens.
func slug(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), "&", "and")
	return strings.Trim(slugUnsafe.ReplaceAllString(s, "-"), "-")
}

// cleanText collapses internal whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// firstText returns the trimmed text of the first selector that yields a
// non-empty value.
func firstText(sel *goquery.Selection, selectors ...string) string {
	for _, q := range selectors {
		if t := cleanText(sel.Find(q).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

// firstAttr returns attr from the first selector match that carries it.
func firstAttr(sel *goquery.Selection, attr string, selectors ...string) string {
	for _, q := range selectors {
		if v, ok := sel.Find(q).First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// resolveURL makes href absolute against base. Non-http results and
// unparsable values come back empty.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// usableName reports whether name is long enough to identify a business.
func usableName(name string) bool {
	return len([]rune(strings.TrimSpace(name))) >= minNameLen
}
