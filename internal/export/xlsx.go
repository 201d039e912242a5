// Package export writes discovered opportunities to external surfaces.
package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/transitbase/intel-cli/internal/model"
)

var xlsxHeader = []string{
	"Agency ID", "Title", "Type", "Status", "Confidence", "Source URL",
	"Source Type", "Deadline", "Estimated Value", "Verified", "Description",
}

// WriteXLSX writes the opportunities to a single-sheet workbook at path.
func WriteXLSX(path string, opps []model.Opportunity) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Opportunities")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range xlsxHeader {
		header.AddCell().SetString(col)
	}

	for _, o := range opps {
		row := sheet.AddRow()
		row.AddCell().SetString(o.AgencyID)
		row.AddCell().SetString(o.Title)
		row.AddCell().SetString(string(o.Type))
		row.AddCell().SetString(o.Status)
		row.AddCell().SetFloat(o.Confidence)
		row.AddCell().SetString(o.SourceURL)
		row.AddCell().SetString(string(o.SourceType))
		if o.Deadline != nil {
			row.AddCell().SetString(o.Deadline.Format("2006-01-02"))
		} else {
			row.AddCell().SetString("")
		}
		if o.EstimatedValue != nil {
			row.AddCell().SetFloat(*o.EstimatedValue)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetBool(o.Verified)
		row.AddCell().SetString(o.Description)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save workbook")
	}
	return nil
}
