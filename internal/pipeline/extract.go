package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/transitbase/intel-cli/internal/llmjson"
	"github.com/transitbase/intel-cli/internal/model"
	"github.com/transitbase/intel-cli/pkg/aigateway"
)

// Source-type priors used when the model does not self-report a usable
// confidence. Portal listings are structured procurement data so they rank
// above direct agency pages, which rank above open web results.
const (
	priorPortal = 0.7
	priorSite   = 0.6
	priorWeb    = 0.5
)

const extractPrompt = `You are a procurement analyst reviewing a web page for transit agency contracting opportunities.

Agency: %s
Page URL: %s
Page content:
%s

Identify every procurement opportunity on this page that involves the agency: RFPs, RFQs, invitations to bid, contract awards, or procurement portal listings. Return a valid JSON object:
{"opportunities": [{"title": "<title>", "description": "<one sentence>", "type": "rfp|rfq|bid|contract_award|portal", "url": "<link if present>", "deadline": "YYYY-MM-DD or null", "estimated_value": <number or null>, "contact": {<name/email/phone if present>}, "confidence": <0.0-1.0>}]}

Return {"opportunities": []} if the page has none.`

// PageContent is one scraped page handed to the extractor.
type PageContent struct {
	URL     string
	Content string
}

type extractionPayload struct {
	Opportunities []opportunityCandidate `json:"opportunities"`
}

type opportunityCandidate struct {
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Type           string         `json:"type"`
	URL            string         `json:"url"`
	Deadline       string         `json:"deadline"`
	EstimatedValue *float64       `json:"estimated_value"`
	Contact        map[string]any `json:"contact"`
	Confidence     float64        `json:"confidence"`
}

// Extractor turns scraped page content into opportunity candidates via the
// chat-completions gateway.
type Extractor struct {
	gateway  aigateway.Client
	model    string
	maxChars int
}

// NewExtractor creates an Extractor. maxChars bounds the page content
// embedded in each prompt.
func NewExtractor(client aigateway.Client, modelName string, maxChars int) *Extractor {
	if maxChars <= 0 {
		maxChars = 20000
	}
	return &Extractor{gateway: client, model: modelName, maxChars: maxChars}
}

// ExtractOpportunities runs one extraction call for one page. A response the
// model mangles beyond recovery yields no candidates and no error; the page
// simply contributes nothing.
func (e *Extractor) ExtractOpportunities(ctx context.Context, agency model.Agency, page PageContent, source model.SourceType) ([]model.Opportunity, error) {
	content := page.Content
	if len(content) > e.maxChars {
		content = content[:e.maxChars]
	}

	resp, err := e.gateway.ChatCompletion(ctx, aigateway.ChatCompletionRequest{
		Model: e.model,
		Messages: []aigateway.Message{
			{Role: "user", Content: fmt.Sprintf(extractPrompt, agency.DisplayName(), page.URL, content)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: extract opportunities")
	}

	var payload extractionPayload
	if err := llmjson.DecodeFirstObject(resp.Content(), &payload); err != nil {
		zap.L().Debug("pipeline: unusable extraction output",
			zap.String("url", page.URL),
			zap.Error(err),
		)
		return nil, nil
	}

	opps := make([]model.Opportunity, 0, len(payload.Opportunities))
	for _, c := range payload.Opportunities {
		if c.Title == "" {
			continue
		}
		opps = append(opps, e.toOpportunity(agency, page, source, c))
	}
	return opps, nil
}

func (e *Extractor) toOpportunity(agency model.Agency, page PageContent, source model.SourceType, c opportunityCandidate) model.Opportunity {
	o := model.Opportunity{
		AgencyID:    agency.ID,
		Title:       c.Title,
		Description: c.Description,
		SourceURL:   page.URL,
		SourceType:  source,
		Contact:     c.Contact,
	}

	if c.URL != "" {
		o.SourceURL = c.URL
	}

	o.Type = model.ParseOpportunityType(c.Type)
	if o.Type == model.TypeUnknown {
		o.Type = model.InferOpportunityType(c.Title + " " + c.Description)
	}
	if o.Type == model.TypeUnknown && source == model.SourcePortalSearch {
		o.Type = model.TypePortal
	}

	if c.Deadline != "" && c.Deadline != "null" {
		if d, err := time.Parse("2006-01-02", c.Deadline); err == nil {
			o.Deadline = &d
		}
	}
	o.EstimatedValue = c.EstimatedValue

	if c.Confidence > 0 && c.Confidence <= 1 {
		o.Confidence = c.Confidence
	} else {
		o.Confidence = sourcePrior(source)
	}
	return o
}

func sourcePrior(source model.SourceType) float64 {
	switch source {
	case model.SourcePortalSearch:
		return priorPortal
	case model.SourceDirectSite:
		return priorSite
	default:
		return priorWeb
	}
}
