package leads

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lead-scanner/internal/model"
)

// ExportColumns is the column order shared by every export format.
var ExportColumns = []string{
	"Name", "Phone", "Address", "City", "Category",
	"Website", "Score", "Type", "Source", "Issues",
}

// ExportSheet names the worksheet in XLSX exports.
const ExportSheet = "Leads"

const (
	noWebsite     = "None"
	unknownSource = "unknown"
	issueSep      = "; "
)

// exportRow projects a lead onto ExportColumns with export defaults
// applied. Nothing is quoted.
func exportRow(l model.Lead) []string {
	website := l.Website
	if website == "" {
		website = noWebsite
	}
	source := l.Source
	if source == "" {
		source = unknownSource
	}
	return []string{
		l.Name,
		l.Phone,
		l.Address,
		l.City,
		l.Category,
		website,
		strconv.Itoa(l.LeadScore),
		string(l.LeadType),
		source,
		strings.Join(l.Issues, issueSep),
	}
}

// quotedColumns are always wrapped in double quotes in CSV output; the
// rest are written bare. Existing consumers depend on this layout.
var quotedColumns = map[int]bool{0: true, 2: true, 9: true}

// WriteCSV writes leads as CSV. Rows are separated by a bare newline and
// there is no trailing newline.
func WriteCSV(w io.Writer, leads []model.Lead) error {
	bw := bufio.NewWriter(w)
	_, _ = bw.WriteString(strings.Join(ExportColumns, ","))

	for _, l := range leads {
		row := exportRow(l)
		for i, v := range row {
			if quotedColumns[i] {
				row[i] = `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
			}
		}
		_, _ = bw.WriteString("\n")
		_, _ = bw.WriteString(strings.Join(row, ","))
	}

	// bufio reports the first write error on Flush.
	return eris.Wrap(bw.Flush(), "leads: write csv")
}

// WriteXLSX writes leads as a single-sheet workbook.
func WriteXLSX(w io.Writer, leads []model.Lead) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(ExportSheet)
	if err != nil {
		return eris.Wrap(err, "leads: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range ExportColumns {
		header.AddCell().SetString(c)
	}

	for _, l := range leads {
		row := sheet.AddRow()
		for i, v := range exportRow(l) {
			cell := row.AddCell()
			if ExportColumns[i] == "Score" {
				cell.SetInt(l.LeadScore)
				continue
			}
			cell.SetString(v)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "leads: write xlsx")
	}
	return nil
}
