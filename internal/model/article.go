package model

import "time"

// Article is a news item discovered by the article pipeline and classified
// into the entities it mentions. URL is the natural dedup key.
type Article struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Source      string     `json:"source"`
	Summary     string     `json:"summary"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Agencies    []string   `json:"agencies"`
	Providers   []string   `json:"providers"`
	Categories  []string   `json:"categories"`
	Relevance   float64    `json:"relevance"`
	CreatedAt   time.Time  `json:"created_at"`
}
