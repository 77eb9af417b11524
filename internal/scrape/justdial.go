package scrape

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/browser"
	"github.com/sells-group/lead-scanner/internal/model"
)

// DefaultJustdialBaseURL is the Justdial origin used when none is configured.
const DefaultJustdialBaseURL = "https://www.justdial.com"

const justdialSettle = 3 * time.Second

var (
	justdialContainers = []string{".resultbox", "[data-business-name]", ".store-details", ".business-card"}
	justdialNames      = []string{".jcn a", ".business-name", ".store-name", "h2", "h3"}
	justdialAddresses  = []string{".cont_fl_addr", ".address", ".store-address"}
	justdialRatings    = []string{".green-box", ".rating", ".star_m"}
	justdialReviews    = []string{".rt_count", ".review-count", ".votes"}
	justdialWebsites   = []string{`a[href*="website"]`, `a[data-icon="website"]`, "a.website"}
)

// JustdialSource searches the Justdial business directory.
type JustdialSource struct {
	BaseURL string
}

// NewJustdialSource creates a JustdialSource. An empty baseURL uses
// DefaultJustdialBaseURL.
func NewJustdialSource(baseURL string) *JustdialSource {
	if baseURL == "" {
		baseURL = DefaultJustdialBaseURL
	}
	return &JustdialSource{BaseURL: strings.TrimRight(baseURL, "/")}
}

// Name implements Source.
func (s *JustdialSource) Name() string { return SourceJustdial }

// SearchURL is the listing page for category in city.
func (s *JustdialSource) SearchURL(category, city string) string {
	return s.BaseURL + "/" + slug(city) + "/" + slug(category)
}

// Search implements Source.
func (s *JustdialSource) Search(ctx context.Context, sess browser.Session, category, city string) ([]model.Candidate, error) {
	target := s.SearchURL(category, city)
	page, err := sess.Visit(ctx, target, browser.VisitOptions{MinSettle: justdialSettle})
	if err != nil {
		return nil, unavailable(SourceJustdial, err)
	}

	out, err := ParseJustdial(page.HTML, page.URL, city)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("scrape: justdial listing parsed",
		zap.String("url", target),
		zap.Int("candidates", len(out)),
	)
	return out, nil
}

// ParseJustdial extracts candidates from a Justdial listing document.
// Addresses fall back to city when the listing carries none.
func ParseJustdial(html, pageURL, city string) ([]model.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "justdial: parse html")
	}
	base, _ := url.Parse(pageURL)

	var items *goquery.Selection
	for _, q := range justdialContainers {
		if items = doc.Find(q); items.Length() > 0 {
			break
		}
	}

	var out []model.Candidate
	items.Each(func(_ int, sel *goquery.Selection) {
		name := justdialName(sel)
		if !usableName(name) || strings.Contains(strings.ToLower(name), "justdial") {
			return
		}

		address := firstText(sel, justdialAddresses...)
		if address == "" {
			address = strings.TrimSpace(sel.AttrOr("data-address", firstAttr(sel, "data-address", "[data-address]")))
		}
		if address == "" {
			address = city
		}

		out = append(out, model.Candidate{
			Name:    name,
			Phone:   NormalizePhone(justdialPhone(sel)),
			Address: address,
			Rating:  parseRating(firstText(sel, justdialRatings...)),
			Reviews: parseCount(firstText(sel, justdialReviews...)),
			Website: justdialWebsite(sel, base),
			Source:  SourceJustdial,
		})
	})
	return out, nil
}

func justdialName(sel *goquery.Selection) string {
	if v := strings.TrimSpace(sel.AttrOr("data-business-name", "")); v != "" {
		return cleanText(v)
	}
	if v := firstAttr(sel, "data-business-name", "[data-business-name]"); v != "" {
		return cleanText(v)
	}
	return firstText(sel, justdialNames...)
}

func justdialPhone(sel *goquery.Selection) string {
	if v := strings.TrimSpace(sel.AttrOr("data-phone", "")); v != "" {
		return v
	}
	if v := firstAttr(sel, "data-phone", ".mobilesv", "[data-phone]"); v != "" {
		return v
	}
	if v := firstText(sel, ".phone", ".contact-info", ".mobilesv"); v != "" {
		return v
	}
	return findPhone(sel.Text())
}

func justdialWebsite(sel *goquery.Selection, base *url.URL) string {
	if href := firstAttr(sel, "href", justdialWebsites...); href != "" {
		return resolveURL(base, href)
	}
	icon := sel.Find(".icon-wbb, .icon-website").First()
	if icon.Length() == 0 {
		return ""
	}
	if href, ok := icon.Closest("a").Attr("href"); ok {
		return resolveURL(base, href)
	}
	return ""
}
