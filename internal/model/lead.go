package model

import "time"

// LeadType is the sales temperature of a scored lead.
type LeadType string

const (
	LeadTypeHot  LeadType = "HOT"
	LeadTypeWarm LeadType = "WARM"
	LeadTypeCold LeadType = "COLD"
)

// PhoneNotAvailable marks a candidate whose phone could not be recovered.
const PhoneNotAvailable = "Not Available"

// DefaultLeadStatus is the workflow status given to freshly persisted leads.
const DefaultLeadStatus = "new"

// Candidate is an unpersisted business record extracted from one source.
type Candidate struct {
	Name    string  `json:"name"`
	Phone   string  `json:"phone"`
	Email   string  `json:"email,omitempty"`
	Address string  `json:"address"`
	Rating  float64 `json:"rating"`
	Reviews int     `json:"reviews"`
	Website string  `json:"website,omitempty"`
	Source  string  `json:"source"`
	HasGBP  bool    `json:"has_gbp,omitempty"`
}

// SeoSignals are the website quality indicators derived by enrichment.
type SeoSignals struct {
	HasMetaTitle     bool   `json:"hasMetaTitle"`
	HasH1            bool   `json:"hasH1"`
	PageSpeed        int    `json:"pageSpeed"`
	IsMobileFriendly bool   `json:"isMobileFriendly"`
	HasLocalKeywords bool   `json:"hasLocalKeywords"`
	HasContactPage   bool   `json:"hasContactPage"`
	Email            string `json:"email,omitempty"`
}

// DefaultPageSpeed is the page speed reported when a site was not analyzed.
const DefaultPageSpeed = 50

// DefaultSeoSignals returns the signal bundle used when no site could be analyzed.
func DefaultSeoSignals() SeoSignals {
	return SeoSignals{PageSpeed: DefaultPageSpeed}
}

// GbpSignals holds business-profile verification results.
type GbpSignals struct {
	Verified bool `json:"verified"`
}

// Lead is a persisted, scored business record owned by a user.
type Lead struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	JobID            string     `json:"job_id,omitempty"`
	Name             string     `json:"name"`
	Phone            string     `json:"phone"`
	Email            string     `json:"email,omitempty"`
	Address          string     `json:"address"`
	City             string     `json:"city"`
	Category         string     `json:"category"`
	Website          string     `json:"website,omitempty"`
	HasWebsite       bool       `json:"has_website"`
	HasGBP           bool       `json:"has_gbp"`
	Reviews          int        `json:"reviews"`
	Rating           float64    `json:"rating"`
	LeadScore        int        `json:"lead_score"`
	LeadType         LeadType   `json:"lead_type"`
	Issues           []string   `json:"issues"`
	SeoData          SeoSignals `json:"seo_data"`
	GbpData          GbpSignals `json:"gbp_data"`
	EstimatedRevenue string     `json:"estimated_revenue"`
	Contacted        bool       `json:"contacted"`
	Status           string     `json:"status"`
	Source           string     `json:"source"`
	IsFake           bool       `json:"is_fake"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// LeadFilter narrows a lead listing. Zero fields do not filter; a
// non-positive Limit returns every match.
type LeadFilter struct {
	UserID   string
	JobID    string
	LeadType LeadType
	MinScore int
	Limit    int
}
