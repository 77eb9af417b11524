// Package scorer turns a candidate's web and profile signals into a lead
// score, a temperature category and a list of sales-pitch issues.
package scorer

import (
	"fmt"
	"strconv"

	"github.com/sells-group/lead-scanner/internal/model"
)

// Point weights for each deficiency.
const (
	pointsNoWebsite     = 40
	pointsNoMetaTitle   = 10
	pointsNoH1          = 10
	pointsSlowPage      = 15
	pointsNotMobile     = 10
	pointsNoLocalKW     = 10
	pointsNoContactPage = 5
	pointsNoGBP         = 30
	pointsFewReviews    = 20
	pointsLowRating     = 10

	slowPageThreshold  = 50
	fewReviewsCutoff   = 10
	lowRatingThreshold = 4.0

	hotThreshold  = 80
	warmThreshold = 50
)

// Result is the outcome of scoring one candidate.
type Result struct {
	Score            int            `json:"score"`
	LeadType         model.LeadType `json:"lead_type"`
	Issues           []string       `json:"issues"`
	EstimatedRevenue string         `json:"estimated_revenue"`
}

// Score is a pure function of its inputs: identical arguments always yield
// an identical Result, including the order of Issues.
func Score(c model.Candidate, seo model.SeoSignals, gbp model.GbpSignals) Result {
	score := 0
	issues := []string{}
	add := func(points int, issue string) {
		score += points
		issues = append(issues, issue)
	}

	if c.Website == "" {
		add(pointsNoWebsite, "No website found")
	} else {
		if !seo.HasMetaTitle {
			add(pointsNoMetaTitle, "Missing meta title")
		}
		if !seo.HasH1 {
			add(pointsNoH1, "No H1 heading")
		}
		if seo.PageSpeed < slowPageThreshold {
			add(pointsSlowPage, "Slow page speed")
		}
		if !seo.IsMobileFriendly {
			add(pointsNotMobile, "Not mobile friendly")
		}
		if !seo.HasLocalKeywords {
			add(pointsNoLocalKW, "No local keywords")
		}
		if !seo.HasContactPage {
			add(pointsNoContactPage, "Missing contact page")
		}
	}

	if !gbp.Verified && !c.HasGBP {
		add(pointsNoGBP, "No Google Business Profile")
	}

	if c.Reviews < fewReviewsCutoff {
		add(pointsFewReviews, fmt.Sprintf("Only %d reviews", c.Reviews))
	}
	if c.Rating > 0 && c.Rating < lowRatingThreshold {
		add(pointsLowRating, "Low rating: "+strconv.FormatFloat(c.Rating, 'f', -1, 64))
	}

	return Result{
		Score:            score,
		LeadType:         Classify(score),
		Issues:           issues,
		EstimatedRevenue: FormatRevenue(score),
	}
}

// Classify maps a score to its lead temperature.
func Classify(score int) model.LeadType {
	switch {
	case score >= hotThreshold:
		return model.LeadTypeHot
	case score >= warmThreshold:
		return model.LeadTypeWarm
	default:
		return model.LeadTypeCold
	}
}
