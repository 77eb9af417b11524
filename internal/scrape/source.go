// Package scrape finds candidate businesses for a (category, city) pair by
// querying directory sources in fallback order.
package scrape

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scanner/internal/browser"
	"github.com/sells-group/lead-scanner/internal/model"
)

// Source names used in configuration and on Candidate.Source.
const (
	SourceJustdial   = "justdial"
	SourceGoogleMaps = "google_maps"
	SourcePlaces     = "google_places"
)

// ErrSourceUnavailable is returned by a source whose page could not be
// loaded or was served a block page.
var ErrSourceUnavailable = eris.New("scrape: source unavailable")

// Source extracts candidates from one directory. Implementations do not
// retry; falling back to the next source is the Aggregator's job.
type Source interface {
	Name() string
	Search(ctx context.Context, sess browser.Session, category, city string) ([]model.Candidate, error)
}

// unavailable wraps err so callers can match ErrSourceUnavailable while
// keeping the underlying cause in the message.
func unavailable(source string, err error) error {
	return eris.Wrapf(ErrSourceUnavailable, "%s: %v", source, err)
}
