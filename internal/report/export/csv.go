package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"provider-presence/internal/presence/domain/timeline"
)

const dateLayout = "2006-01-02"

// WriteCSV writes rows with the canonical header
// provider_id,date,Hour Start Time,Hour End Time,Seconds Online.
func WriteCSV(w io.Writer, rows []timeline.BucketAggregate) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(timeline.Columns); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.ProviderID,
			row.Date.Format(dateLayout),
			strconv.Itoa(row.HourStart),
			strconv.Itoa(row.HourEnd),
			FormatSeconds(row.SecondsOnline),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// FormatSeconds renders seconds without trailing zeros.
func FormatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
