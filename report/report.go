// Package report writes run results as CSV tables and Excel workbooks.
package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/gotopics"
	"github.com/brunobiangulo/gotopics/sentiment"
)

// Header is the column order of the output table.
var Header = []string{"general_topic", "subtopic", "sentiment", "response_count", "summary"}

// WriteCSV writes the header and one line per row. Every non-numeric field
// is quoted.
func WriteCSV(w io.Writer, rows []gotopics.OutputRow) error {
	bw := bufio.NewWriter(w)
	writeLine := func(fields ...string) {
		for i, f := range fields {
			if i > 0 {
				bw.WriteByte(',')
			}
			bw.WriteString(f)
		}
		bw.WriteString("\r\n")
	}

	quoted := make([]string, len(Header))
	for i, h := range Header {
		quoted[i] = quote(h)
	}
	writeLine(quoted...)
	for _, r := range rows {
		writeLine(
			quote(r.GeneralTopic),
			quote(r.Subtopic),
			quote(r.Sentiment.String()),
			strconv.Itoa(r.ResponseCount),
			quote(r.Summary),
		)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

const (
	summarySheet = "Summary"
	topicsSheet  = "Topics"
)

// WriteXLSX saves res as a workbook with a Summary sheet holding the output
// table and a Topics sheet holding keywords and sentiment distributions.
func WriteXLSX(path string, res *gotopics.Result) error {
	f, err := Workbook(res)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

// Workbook builds the report workbook in memory.
func Workbook(res *gotopics.Result) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(topicsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("creating sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
		Alignment: &excelize.Alignment{Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating style: %w", err)
	}
	wrapStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("creating style: %w", err)
	}

	summary := [][]any{toAny(Header)}
	for _, r := range res.Rows {
		summary = append(summary, []any{r.GeneralTopic, r.Subtopic, r.Sentiment.String(), r.ResponseCount, r.Summary})
	}
	if err := writeSheet(f, summarySheet, summary, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	topics := [][]any{{"general_topic", "topic_keywords", "subtopic", "subtopic_keywords", "sentiment", "response_count", "distribution"}}
	for _, t := range res.Topics {
		for _, s := range t.Subtopics {
			topics = append(topics, []any{
				t.Label,
				strings.Join(t.Keywords, ", "),
				s.Label,
				strings.Join(s.Keywords, ", "),
				s.Sentiment.String(),
				len(s.MemberIDs),
				FormatDistribution(s.Distribution),
			})
		}
	}
	if err := writeSheet(f, topicsSheet, topics, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	widths := []struct {
		sheet, from, to string
		width           float64
	}{
		{summarySheet, "A", "B", 28},
		{summarySheet, "C", "D", 16},
		{summarySheet, "E", "E", 80},
		{topicsSheet, "A", "D", 28},
		{topicsSheet, "E", "F", 16},
		{topicsSheet, "G", "G", 40},
	}
	for _, w := range widths {
		if err := f.SetColWidth(w.sheet, w.from, w.to, w.width); err != nil {
			f.Close()
			return nil, fmt.Errorf("setting column width: %w", err)
		}
	}
	if len(summary) > 1 {
		last, _ := excelize.CoordinatesToCellName(5, len(summary))
		if err := f.SetCellStyle(summarySheet, "E2", last, wrapStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("styling summaries: %w", err)
		}
	}
	return f, nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	end, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", end, headerStyle); err != nil {
		return fmt.Errorf("styling %s header: %w", sheet, err)
	}
	return nil
}

// FormatDistribution renders label counts from most negative to most
// positive, skipping zeros.
func FormatDistribution(dist map[string]int) string {
	var parts []string
	for _, l := range sentiment.Labels {
		if n := dist[l.String()]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", l, n))
		}
	}
	return strings.Join(parts, ", ")
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
