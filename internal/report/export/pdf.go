package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"provider-presence/internal/presence/domain/run"
	"provider-presence/internal/presence/domain/timeline"
)

// BuildPDF renders the run counters and the per-hour online totals.
func BuildPDF(record run.Record, rows []timeline.BucketAggregate) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Provider Online Seconds")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	lines := []string{
		fmt.Sprintf("Run: %s", record.ID),
		fmt.Sprintf("Finished: %s", record.FinishedAt.UTC().Format(time.RFC3339)),
		fmt.Sprintf("Rows: %d", record.Summary.Rows),
		fmt.Sprintf("Total seconds online: %s", FormatSeconds(record.Summary.TotalSecondsOnline)),
		fmt.Sprintf("Buckets with nonzero seconds: %d", record.Summary.OnlineBuckets),
		fmt.Sprintf("Dropped events: %d", record.DroppedEvents),
	}
	for _, line := range lines {
		pdf.Cell(0, 6, line)
		pdf.Ln(5)
	}
	pdf.Ln(4)

	profile := timeline.HourlyProfile(rows)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(30, 6, "Hour", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Seconds Online", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Hours Online", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for hour, seconds := range profile {
		pdf.CellFormat(30, 6, fmt.Sprintf("%02d:00", hour), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, fmt.Sprintf("%.0f", seconds), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%.2f", seconds/timeline.BucketSeconds), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
