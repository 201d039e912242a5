package model

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Agency is a transit-service operating organization. Read-only input to
// the discovery pipeline.
type Agency struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	URL          string    `json:"url"`
	VehicleCount int       `json:"vehicle_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// DisplayName returns the agency name, falling back to a name derived from
// the agency's domain when the record has none.
func (a Agency) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return NameFromURL(a.URL)
}

var titleCaser = cases.Title(language.AmericanEnglish)

// NameFromURL derives a human-readable name from a URL's domain.
// "https://metro-transit.gov" → "Metro Transit".
func NameFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + rawURL)
		if err != nil || u.Host == "" {
			return ""
		}
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return ""
	}
	return titleCaser.String(strings.ReplaceAll(parts[0], "-", " "))
}

// AgencyProcurementStatus is the per-agency rollup row, overwritten after
// every run (last-write-wins, no history).
type AgencyProcurementStatus struct {
	AgencyID           string    `json:"agency_id"`
	LastSearchAt       time.Time `json:"last_search_at"`
	LastRunID          string    `json:"last_run_id"`
	OverallConfidence  float64   `json:"overall_confidence"`
	TotalOpportunities int       `json:"total_opportunities_found"`
	HasActiveRFPs      bool      `json:"has_active_rfps"`
	NextCheckDue       time.Time `json:"next_check_due"`
}
