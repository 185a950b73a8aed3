package scraper

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// BatchWriter persists batches of records as CSV files with zero-padded
// sequential names inside one worker's partition directory. The header of
// each file is the sorted union of the keys present in that batch, and every
// cell is JSON-encoded so null, strings and lists survive the round trip.
type BatchWriter struct {
	dir    string
	index  int
	logger *zap.Logger
}

// NewBatchWriter returns a writer rooted at dir, starting at file 001.
func NewBatchWriter(dir string, logger *zap.Logger) *BatchWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchWriter{dir: dir, index: 1, logger: logger}
}

// Write flushes the batch to the next sequential file and returns its path.
// An empty batch is a no-op.
func (w *BatchWriter) Write(records []*Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", fmt.Errorf("create batch dir %s: %w", w.dir, err)
	}

	fields := make([]map[string]Value, len(records))
	keySet := make(map[string]struct{})
	for i, rec := range records {
		fields[i] = rec.Fields()
		for key := range fields[i] {
			keySet[key] = struct{}{}
		}
	}
	header := make([]string, 0, len(keySet))
	for key := range keySet {
		header = append(header, key)
	}
	sort.Strings(header)

	path := filepath.Join(w.dir, fmt.Sprintf("%03d.csv", w.index))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create batch file %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			w.logger.Warn("close batch file", zap.String("path", path), zap.Error(cerr))
		}
	}()

	cw := csv.NewWriter(file)
	if err := cw.Write(header); err != nil {
		return "", fmt.Errorf("write header %s: %w", path, err)
	}
	row := make([]string, len(header))
	for _, recordFields := range fields {
		for i, key := range header {
			value, ok := recordFields[key]
			if !ok {
				value = Null()
			}
			cell, err := json.Marshal(value)
			if err != nil {
				return "", fmt.Errorf("encode cell %s: %w", key, err)
			}
			row[i] = string(cell)
		}
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("write row %s: %w", path, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("flush batch %s: %w", path, err)
	}

	w.index++
	TotalBatchesWritten.Inc()
	w.logger.Info("batch saved",
		zap.String("path", path),
		zap.Int("records", len(records)),
	)
	return path, nil
}
