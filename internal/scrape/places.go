package scrape

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-scanner/internal/browser"
	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/pkg/google"
)

const (
	placesPageSize = 20
	placesMaxPages = 3
	closedForGood  = "CLOSED_PERMANENTLY"
)

// PlacesSource queries the Google Places Text Search API. It does not use
// the browser session.
type PlacesSource struct {
	client  google.Client
	limiter *rate.Limiter
	pages   int
}

// NewPlacesSource creates a PlacesSource allowing rateLimit requests per
// second.
func NewPlacesSource(client google.Client, rateLimit float64) *PlacesSource {
	if rateLimit <= 0 {
		rateLimit = 5
	}
	return &PlacesSource{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
		pages:   placesMaxPages,
	}
}

// Name implements Source.
func (s *PlacesSource) Name() string { return SourcePlaces }

// Search implements Source.
func (s *PlacesSource) Search(ctx context.Context, _ browser.Session, category, city string) ([]model.Candidate, error) {
	var (
		out   []model.Candidate
		token string
	)

	for page := 0; page < s.pages; page++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return out, eris.Wrap(err, "places: rate limit wait")
		}

		resp, err := s.client.TextSearch(ctx, google.TextSearchRequest{
			TextQuery: category + " in " + city,
			PageSize:  placesPageSize,
			PageToken: token,
		})
		if err != nil {
			if len(out) > 0 {
				zap.L().Warn("places: stopping pagination early", zap.Int("page", page), zap.Error(err))
				return out, nil
			}
			return nil, unavailable(SourcePlaces, err)
		}

		for _, p := range resp.Places {
			if c, ok := placeCandidate(p, city); ok {
				out = append(out, c)
			}
		}

		if resp.NextPageToken == "" {
			break
		}
		token = resp.NextPageToken
	}
	return out, nil
}

func placeCandidate(p google.Place, city string) (model.Candidate, bool) {
	name := cleanText(p.DisplayName.Text)
	if !usableName(name) || p.BusinessStatus == closedForGood {
		return model.Candidate{}, false
	}

	phone := p.InternationalPhoneNumber
	if phone == "" {
		phone = p.NationalPhoneNumber
	}
	address := strings.TrimSpace(p.FormattedAddress)
	if address == "" {
		address = city
	}

	return model.Candidate{
		Name:    name,
		Phone:   NormalizePhone(phone),
		Address: address,
		Rating:  min(max(p.Rating, 0), 5),
		Reviews: p.UserRatingCount,
		Website: resolveURL(nil, p.WebsiteURI),
		Source:  SourcePlaces,
		HasGBP:  true,
	}, true
}
