package model

import (
	"strings"
	"time"
)

// OpportunityType categorizes a procurement lead.
type OpportunityType string

const (
	TypeRFP           OpportunityType = "rfp"
	TypeRFQ           OpportunityType = "rfq"
	TypeBid           OpportunityType = "bid"
	TypeContractAward OpportunityType = "contract_award"
	TypePortal        OpportunityType = "portal"
	TypeUnknown       OpportunityType = "unknown"
)

// SourceType identifies which discovery phase produced an opportunity.
type SourceType string

const (
	SourceDirectSite   SourceType = "direct_site"
	SourcePortalSearch SourceType = "portal_search"
	SourceWebSearch    SourceType = "web_search"
)

// Opportunity is a discovered procurement lead. The source URL is the
// natural dedup key per agency; the storage layer enforces uniqueness.
type Opportunity struct {
	ID             string          `json:"id"`
	AgencyID       string          `json:"agency_id"`
	RunID          string          `json:"run_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Type           OpportunityType `json:"opportunity_type"`
	SourceURL      string          `json:"source_url"`
	SourceType     SourceType      `json:"source_type"`
	Deadline       *time.Time      `json:"deadline,omitempty"`
	EstimatedValue *float64        `json:"estimated_value,omitempty"`
	Contact        map[string]any  `json:"contact,omitempty"`
	ExtractedData  map[string]any  `json:"extracted_data,omitempty"`
	Confidence     float64         `json:"confidence_score"`
	Verified       bool            `json:"verified"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ActiveRFP reports whether the opportunity is an RFP that has not expired.
// A nil deadline counts as active.
func (o Opportunity) ActiveRFP(now time.Time) bool {
	if o.Type != TypeRFP {
		return false
	}
	return o.Deadline == nil || o.Deadline.After(now)
}

// ParseOpportunityType maps a model-reported type string onto a known
// OpportunityType, returning TypeUnknown for anything unrecognized.
func ParseOpportunityType(s string) OpportunityType {
	switch OpportunityType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeRFP, TypeRFQ, TypeBid, TypeContractAward, TypePortal:
		return OpportunityType(strings.ToLower(strings.TrimSpace(s)))
	}
	return TypeUnknown
}

// InferOpportunityType guesses a type from free text when the model did not
// report one. Ordering matters: the more specific phrases win.
func InferOpportunityType(text string) OpportunityType {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "request for proposal"), strings.Contains(t, "rfp"):
		return TypeRFP
	case strings.Contains(t, "request for quotation"), strings.Contains(t, "request for quote"), strings.Contains(t, "rfq"):
		return TypeRFQ
	case strings.Contains(t, "contract award"), strings.Contains(t, "awarded"):
		return TypeContractAward
	case strings.Contains(t, "invitation to bid"), strings.Contains(t, "invitation for bid"), strings.Contains(t, "bid"):
		return TypeBid
	case strings.Contains(t, "procurement portal"), strings.Contains(t, "vendor portal"):
		return TypePortal
	}
	return TypeUnknown
}

// ClampConfidence bounds a confidence score to [0, 1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
