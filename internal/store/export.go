package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// ExportJSONL writes every joined star record as one JSON object per line.
func (s *SQLiteCatalog) ExportJSONL(ctx context.Context, w io.Writer) error {
	records, err := s.StarsWithCluster(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load stars for export: %w", err)
	}

	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode star %s/%s: %w", r.Cluster, r.ObservationID, err)
		}
	}
	return bw.Flush()
}

// ReadJSONL decodes star records written by ExportJSONL. Blank lines are
// skipped.
func ReadJSONL(r io.Reader) ([]StarRecord, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var records []StarRecord
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec StarRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return records, nil
}
