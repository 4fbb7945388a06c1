package enrollments

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// MarshalCSV renders enrollments as a two-column CSV document with a
// student_key,status header.
func MarshalCSV(items []Enrollment) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"student_key", "status"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, item := range items {
		if err := w.Write([]string{item.StudentKey, string(item.Status)}); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}
