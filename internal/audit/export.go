package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

var csvHeader = []string{"ID", "Timestamp", "Actor", "Action", "Entity", "Entity ID", "Description", "Source Address", "Archived"}

// WriteCSV renders entries as a flat CSV document.
func WriteCSV(rows []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.ID, 10),
			row.OccurredAt.UTC().Format(time.RFC3339),
			row.ActorName,
			string(row.Action),
			row.Entity,
			row.EntityID,
			row.Description,
			row.SourceAddr,
			strconv.FormatBool(row.Archived),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
