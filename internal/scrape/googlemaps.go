package scrape

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/browser"
	"github.com/sells-group/lead-scanner/internal/model"
)

// DefaultMapsBaseURL is the Google Maps origin used when none is configured.
const DefaultMapsBaseURL = "https://www.google.com"

const (
	mapsSettle      = 5 * time.Second
	mapsScrollPause = 2 * time.Second
	mapsFeed        = `[role="feed"]`
	defaultScrolls  = 3
)

var reviewsInLabel = regexp.MustCompile(`(?i)([\d,]+)\s+review`)

// MapsSource scrapes the Google Maps search results feed.
type MapsSource struct {
	BaseURL string
	Scrolls int
}

// NewMapsSource creates a MapsSource. Zero values fall back to defaults.
func NewMapsSource(baseURL string, scrolls int) *MapsSource {
	if baseURL == "" {
		baseURL = DefaultMapsBaseURL
	}
	if scrolls <= 0 {
		scrolls = defaultScrolls
	}
	return &MapsSource{BaseURL: strings.TrimRight(baseURL, "/"), Scrolls: scrolls}
}

// Name implements Source.
func (s *MapsSource) Name() string { return SourceGoogleMaps }

// SearchURL is the Maps search page for category in city.
func (s *MapsSource) SearchURL(category, city string) string {
	return s.BaseURL + "/maps/search/" + url.PathEscape(category+" in "+city)
}

// Search implements Source.
func (s *MapsSource) Search(ctx context.Context, sess browser.Session, category, city string) ([]model.Candidate, error) {
	target := s.SearchURL(category, city)
	page, err := sess.Visit(ctx, target, browser.VisitOptions{
		MinSettle:      mapsSettle,
		Scrolls:        s.Scrolls,
		ScrollSelector: mapsFeed,
		ScrollPause:    mapsScrollPause,
	})
	if err != nil {
		return nil, unavailable(SourceGoogleMaps, err)
	}

	out, err := ParseGoogleMaps(page.HTML, page.URL, city)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("scrape: maps feed parsed",
		zap.String("url", target),
		zap.Int("candidates", len(out)),
	)
	return out, nil
}

// ParseGoogleMaps extracts candidates from a Maps results feed. Every
// listing found there has a business profile.
func ParseGoogleMaps(html, pageURL, city string) ([]model.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "maps: parse html")
	}
	base, _ := url.Parse(pageURL)

	items := doc.Find(`[role="article"]`)
	if items.Length() == 0 {
		items = doc.Find(".Nv2PK")
	}

	var out []model.Candidate
	items.Each(func(_ int, sel *goquery.Selection) {
		name := firstText(sel, ".fontHeadlineSmall", ".qBF1Pd")
		if name == "" {
			name = cleanText(sel.AttrOr("aria-label", ""))
		}
		if !usableName(name) {
			return
		}

		label := firstAttr(sel, "aria-label", `span[role="img"]`)
		rating := parseRating(label)
		var reviews int
		if m := reviewsInLabel.FindStringSubmatch(label); m != nil {
			reviews = parseCount(m[1])
		} else {
			reviews = parseCount(firstText(sel, ".UY7F9"))
		}

		address := mapsAddress(sel)
		if address == "" {
			address = city
		}

		out = append(out, model.Candidate{
			Name:    name,
			Phone:   NormalizePhone(mapsPhone(sel)),
			Address: address,
			Rating:  rating,
			Reviews: reviews,
			Website: mapsWebsite(sel, base),
			Source:  SourceGoogleMaps,
			HasGBP:  true,
		})
	})
	return out, nil
}

// mapsAddress returns the first "·"-separated detail segment that looks
// like a street address.
func mapsAddress(sel *goquery.Selection) string {
	var address string
	sel.Find(".fontBodyMedium").EachWithBreak(func(_ int, body *goquery.Selection) bool {
		for _, part := range strings.Split(body.Text(), "·") {
			part = cleanText(part)
			if strings.Contains(part, ",") && findPhone(part) == "" {
				address = part
				return false
			}
		}
		return true
	})
	return address
}

func mapsPhone(sel *goquery.Selection) string {
	if v := firstAttr(sel, "aria-label", `[data-tooltip="Copy phone number"]`); v != "" {
		return v
	}
	if v := firstText(sel, `[data-tooltip="Copy phone number"]`, ".UsdlK"); v != "" {
		return v
	}
	return findPhone(sel.Text())
}

func mapsWebsite(sel *goquery.Selection, base *url.URL) string {
	if href := firstAttr(sel, "href", `a[data-tooltip="Open website"]`, `a[data-value="Website"]`); href != "" {
		return resolveURL(base, href)
	}
	var site string
	sel.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := a.AttrOr("href", "")
		if strings.HasPrefix(href, "tel:") {
			return true
		}
		abs := resolveURL(base, href)
		if abs == "" || strings.Contains(abs, "google.") {
			return true
		}
		site = abs
		return false
	})
	return site
}
