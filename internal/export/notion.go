package export

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/transitbase/intel-cli/internal/model"
	"github.com/transitbase/intel-cli/pkg/notion"
)

// NotionExporter pushes opportunities into a Notion database as pages.
type NotionExporter struct {
	client     notion.Client
	databaseID string
}

// NewNotionExporter creates a NotionExporter targeting the given database.
func NewNotionExporter(client notion.Client, databaseID string) *NotionExporter {
	return &NotionExporter{client: client, databaseID: databaseID}
}

// Export creates one page per opportunity and returns how many were created.
// A failing page is logged and skipped; a cancelled context aborts the export.
func (e *NotionExporter) Export(ctx context.Context, opps []model.Opportunity) (int, error) {
	if e.databaseID == "" {
		return 0, eris.New("export: notion database id not configured")
	}

	created := 0
	for _, o := range opps {
		if ctx.Err() != nil {
			return created, eris.Wrap(ctx.Err(), "export: notion export cancelled")
		}

		_, err := e.client.CreatePage(ctx, e.pageRequest(o))
		if err != nil {
			zap.L().Warn("export: notion page creation failed",
				zap.String("title", o.Title),
				zap.String("source_url", o.SourceURL),
				zap.Error(err),
			)
			continue
		}
		created++
	}
	return created, nil
}

func (e *NotionExporter) pageRequest(o model.Opportunity) *notionapi.PageCreateRequest {
	props := notionapi.Properties{
		"Title": notionapi.TitleProperty{
			Title: []notionapi.RichText{{Text: &notionapi.Text{Content: o.Title}}},
		},
		"Agency": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: o.AgencyID}}},
		},
		"Type": notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(o.Type)},
		},
		"Status": notionapi.SelectProperty{
			Select: notionapi.Option{Name: o.Status},
		},
		"Confidence": notionapi.NumberProperty{
			Number: o.Confidence,
		},
		"Source": notionapi.URLProperty{
			URL: o.SourceURL,
		},
	}

	if o.Deadline != nil {
		deadline := notionapi.Date(*o.Deadline)
		props["Deadline"] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &deadline},
		}
	}
	if o.EstimatedValue != nil {
		props["Estimated Value"] = notionapi.NumberProperty{
			Number: *o.EstimatedValue,
		}
	}

	return &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(e.databaseID),
		},
		Properties: props,
	}
}
