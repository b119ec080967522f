package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"provider-presence/internal/presence/domain/run"
	"provider-presence/internal/presence/domain/timeline"
)

const (
	summarySheet = "summary"
	bucketsSheet = "buckets"
)

// BuildXLSX renders a workbook with a summary sheet and one row per bucket.
func BuildXLSX(record run.Record, rows []timeline.BucketAggregate) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(bucketsSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Run", record.ID},
		{"Started", record.StartedAt.UTC().Format(time.RFC3339)},
		{"Finished", record.FinishedAt.UTC().Format(time.RFC3339)},
		{"Rows", record.Summary.Rows},
		{"Total Seconds Online", record.Summary.TotalSecondsOnline},
		{"Online Buckets", record.Summary.OnlineBuckets},
		{"Dropped Events", record.DroppedEvents},
	}
	_ = f.SetCellValue(summarySheet, "A1", "Provider Online Seconds")
	for i, kv := range summary {
		row := i + 3
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), kv[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), kv[1])
	}

	for i, column := range timeline.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(bucketsSheet, cell, column)
	}
	for i, row := range rows {
		r := i + 2
		_ = f.SetCellValue(bucketsSheet, fmt.Sprintf("A%d", r), row.ProviderID)
		_ = f.SetCellValue(bucketsSheet, fmt.Sprintf("B%d", r), row.Date.Format(dateLayout))
		_ = f.SetCellValue(bucketsSheet, fmt.Sprintf("C%d", r), row.HourStart)
		_ = f.SetCellValue(bucketsSheet, fmt.Sprintf("D%d", r), row.HourEnd)
		_ = f.SetCellValue(bucketsSheet, fmt.Sprintf("E%d", r), row.SecondsOnline)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
