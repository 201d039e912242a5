package articles

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/transitbase/intel-cli/internal/llmjson"
	"github.com/transitbase/intel-cli/internal/model"
	"github.com/transitbase/intel-cli/pkg/anthropic"
)

const classifySystemPrompt = `You classify transit-industry news articles. Identify every transit agency and every service provider or vendor the article mentions, tag the article with topic categories (procurement, electrification, expansion, funding, safety, technology, labor, other), and score how relevant the article is to transit procurement and contracting on a 0.0-1.0 scale. Respond with a valid JSON object:
{"agencies": ["<name>"], "providers": ["<name>"], "categories": ["<category>"], "relevance": <0.0-1.0>, "summary": "<one sentence>"}`

const classifyUserPrompt = `Title: %s
URL: %s
Source: %s

Article content (may be truncated):
%s`

// classifyMaxChars bounds the article text embedded in each prompt.
const classifyMaxChars = 6000

// Classification is the structured read of one article.
type Classification struct {
	Agencies   []string `json:"agencies"`
	Providers  []string `json:"providers"`
	Categories []string `json:"categories"`
	Relevance  float64  `json:"relevance"`
	Summary    string   `json:"summary"`
}

// Classifier labels article candidates with the entities they mention.
type Classifier struct {
	client anthropic.Client
	model  string
}

// NewClassifier creates a Classifier using the given Anthropic model.
func NewClassifier(client anthropic.Client, modelName string) *Classifier {
	return &Classifier{client: client, model: modelName}
}

// Classify runs one classification call. Output the model mangles beyond
// recovery yields a zero Classification and no error; the article is stored
// unlabeled rather than dropped.
func (c *Classifier) Classify(ctx context.Context, cand Candidate) (Classification, error) {
	content := cand.Text
	if len(content) > classifyMaxChars {
		content = content[:classifyMaxChars]
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: 512,
		System:    classifySystemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(classifyUserPrompt, cand.Title, cand.URL, cand.Source, content)},
		},
	})
	if err != nil {
		return Classification{}, eris.Wrap(err, "articles: classify")
	}

	var cls Classification
	if err := llmjson.DecodeFirstObject(resp.Text, &cls); err != nil {
		zap.L().Debug("articles: unusable classification output",
			zap.String("url", cand.URL),
			zap.Error(err),
		)
		return Classification{}, nil
	}

	cls.Relevance = model.ClampConfidence(cls.Relevance)
	return cls, nil
}
