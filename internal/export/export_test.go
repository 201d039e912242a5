package export

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/transitbase/intel-cli/internal/model"
)

func sampleOpportunities() []model.Opportunity {
	deadline := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	value := 2500000.0
	return []model.Opportunity{
		{
			AgencyID:       "ag-1",
			Title:          "Bus Shelter RFP",
			Description:    "Shelters for 40 stops.",
			Type:           model.TypeRFP,
			SourceURL:      "https://metro.gov/rfp/24-031",
			SourceType:     model.SourceDirectSite,
			Deadline:       &deadline,
			EstimatedValue: &value,
			Confidence:     0.85,
			Verified:       true,
			Status:         "new",
		},
		{
			AgencyID:   "ag-2",
			Title:      "Paratransit services",
			Type:       model.TypeBid,
			SourceURL:  "https://bonfirehub.com/rta/123",
			SourceType: model.SourcePortalSearch,
			Confidence: 0.7,
			Status:     "new",
		},
	}
}

func TestWriteXLSX_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opportunities.xlsx")
	require.NoError(t, WriteXLSX(path, sampleOpportunities()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)

	sheet := f.Sheets[0]
	assert.Equal(t, "Opportunities", sheet.Name)
	require.Len(t, sheet.Rows, 3)

	header := sheet.Rows[0]
	require.Len(t, header.Cells, len(xlsxHeader))
	assert.Equal(t, "Agency ID", header.Cells[0].String())
	assert.Equal(t, "Deadline", header.Cells[7].String())

	first := sheet.Rows[1]
	assert.Equal(t, "ag-1", first.Cells[0].String())
	assert.Equal(t, "Bus Shelter RFP", first.Cells[1].String())
	assert.Equal(t, "rfp", first.Cells[2].String())
	conf, err := first.Cells[4].Float()
	require.NoError(t, err)
	assert.InDelta(t, 0.85, conf, 0.001)
	assert.Equal(t, "2026-10-15", first.Cells[7].String())
	assert.True(t, first.Cells[9].Bool())

	second := sheet.Rows[2]
	assert.Equal(t, "", second.Cells[7].String())
	assert.Equal(t, "", second.Cells[8].String())
}

func TestWriteXLSX_EmptyStillWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, WriteXLSX(path, nil))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets[0].Rows, 1)
}

type fakeNotion struct {
	mu       sync.Mutex
	requests []*notionapi.PageCreateRequest
	failOn   map[string]error // keyed by Title property content
}

func (f *fakeNotion) CreatePage(_ context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	title := ""
	if tp, ok := req.Properties["Title"].(notionapi.TitleProperty); ok && len(tp.Title) > 0 {
		title = tp.Title[0].Text.Content
	}
	if err, ok := f.failOn[title]; ok {
		return nil, err
	}
	return &notionapi.Page{ID: "page-1"}, nil
}

func TestNotionExport_CreatesPagePerOpportunity(t *testing.T) {
	client := &fakeNotion{}
	e := NewNotionExporter(client, "db-123")

	created, err := e.Export(context.Background(), sampleOpportunities())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	require.Len(t, client.requests, 2)

	req := client.requests[0]
	assert.Equal(t, notionapi.DatabaseID("db-123"), req.Parent.DatabaseID)

	sel, ok := req.Properties["Type"].(notionapi.SelectProperty)
	require.True(t, ok)
	assert.Equal(t, "rfp", sel.Select.Name)

	num, ok := req.Properties["Confidence"].(notionapi.NumberProperty)
	require.True(t, ok)
	assert.InDelta(t, 0.85, num.Number, 0.001)

	_, hasDeadline := req.Properties["Deadline"]
	assert.True(t, hasDeadline)
	_, hasDeadline = client.requests[1].Properties["Deadline"]
	assert.False(t, hasDeadline)
}

func TestNotionExport_FailedPageSkipped(t *testing.T) {
	client := &fakeNotion{failOn: map[string]error{
		"Bus Shelter RFP": errors.New("validation_error"),
	}}
	e := NewNotionExporter(client, "db-123")

	created, err := e.Export(context.Background(), sampleOpportunities())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Len(t, client.requests, 2)
}

func TestNotionExport_MissingDatabaseID(t *testing.T) {
	e := NewNotionExporter(&fakeNotion{}, "")
	_, err := e.Export(context.Background(), sampleOpportunities())
	require.Error(t, err)
}

func TestNotionExport_CancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeNotion{}
	e := NewNotionExporter(client, "db-123")

	created, err := e.Export(ctx, sampleOpportunities())
	require.Error(t, err)
	assert.Zero(t, created)
	assert.Empty(t, client.requests)
}
