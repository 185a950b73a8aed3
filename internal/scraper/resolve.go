package scraper

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ConditionKind discriminates re-scrape filter predicates.
type ConditionKind int

// Supported re-scrape predicates over one output column.
const (
	// CondMissing selects rows where the column is null or absent.
	CondMissing ConditionKind = iota
	// CondPresent selects rows where the column has any value.
	CondPresent
	// CondContains selects rows whose cell contains a substring,
	// case-insensitively.
	CondContains
)

// Condition is one column predicate of a re-scrape filter.
type Condition struct {
	Kind      ConditionKind
	Substring string
}

// Filter maps output-column names to predicates; predicates are combined by
// logical AND.
type Filter map[string]Condition

// ParseFilter converts the raw config mapping (bool or string per column)
// into a Filter: true means missing, false means present, a string means
// case-insensitive substring match.
func ParseFilter(raw map[string]any) (Filter, error) {
	filter := make(Filter, len(raw))
	for column, condition := range raw {
		switch v := condition.(type) {
		case bool:
			if v {
				filter[column] = Condition{Kind: CondMissing}
			} else {
				filter[column] = Condition{Kind: CondPresent}
			}
		case string:
			filter[column] = Condition{Kind: CondContains, Substring: v}
		default:
			return nil, fmt.Errorf("unsupported filter condition for column %q: %T", column, condition)
		}
	}
	return filter, nil
}

// ErrNoTargetIDs reports a target file that yielded no usable IDs.
var ErrNoTargetIDs = errors.New("no target ids found")

// Resolver computes the work set for a run and partitions it across workers.
type Resolver struct {
	trackers Trackers
	logger   *zap.Logger
}

// NewResolver builds a Resolver.
func NewResolver(trackers Trackers, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{trackers: trackers, logger: logger}
}

// LoadTargetIDs parses the newline-delimited target file, ignoring any line
// that is not purely digits.
func (r *Resolver) LoadTargetIDs(path string) (map[int64]struct{}, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open target ids file: %w", err)
	}
	defer file.Close()

	ids := make(map[int64]struct{})
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !isDigits(line) {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			continue
		}
		ids[id] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read target ids file: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoTargetIDs)
	}
	r.logger.Info("loaded target ids", zap.String("path", path), zap.Int("count", len(ids)))
	return ids, nil
}

// LoadProcessedIDs walks every CSV under baseDir and collects the IDs in
// their id columns; these issues are skipped on subsequent runs. A missing
// directory simply yields an empty set.
func (r *Resolver) LoadProcessedIDs(baseDir string) map[int64]struct{} {
	processed := make(map[int64]struct{})
	if _, err := os.Stat(baseDir); err != nil {
		return processed
	}
	walkErr := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".csv") {
			return err
		}
		if err := r.collectIDsFromCSV(path, processed); err != nil {
			r.logger.Warn("could not process batch file", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
	if walkErr != nil {
		r.logger.Warn("scan of prior batches incomplete", zap.String("dir", baseDir), zap.Error(walkErr))
	}
	r.logger.Info("found processed ids in existing batches",
		zap.String("dir", baseDir),
		zap.Int("count", len(processed)),
	)
	return processed
}

func (r *Resolver) collectIDsFromCSV(path string, into map[int64]struct{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return err
	}
	idCol := -1
	for i, name := range header {
		if name == "id" {
			idCol = i
			break
		}
	}
	if idCol < 0 {
		return nil
	}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if idCol >= len(row) {
			continue
		}
		if id, ok := decodeIDCell(row[idCol]); ok {
			into[id] = struct{}{}
		}
	}
}

// decodeIDCell parses a JSON-encoded id cell; both string and numeric forms
// appear in historical output.
func decodeIDCell(cell string) (int64, bool) {
	var raw any
	if err := json.Unmarshal([]byte(cell), &raw); err != nil {
		return 0, false
	}
	switch v := raw.(type) {
	case string:
		if !isDigits(v) {
			return 0, false
		}
		id, err := strconv.ParseInt(v, 10, 64)
		return id, err == nil
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// RescrapeIDs evaluates the filter against the merged output table and
// returns the IDs of matching rows. Unknown columns are skipped with a
// warning; an empty filter or missing table selects nothing.
func (r *Resolver) RescrapeIDs(mergedCSV string, filter Filter) []int64 {
	if len(filter) == 0 {
		return nil
	}
	file, err := os.Open(mergedCSV)
	if err != nil {
		r.logger.Info("merged table not found, skipping re-scrape filter",
			zap.String("path", mergedCSV))
		return nil
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		r.logger.Warn("could not read merged table header", zap.Error(err))
		return nil
	}
	// Column names are matched case-insensitively; the config layer
	// lower-cases filter keys.
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(name)] = i
	}

	valid := make(map[int]Condition)
	for column, condition := range filter {
		idx, ok := columns[strings.ToLower(column)]
		if !ok {
			r.logger.Warn("filter column not found in merged table, skipping",
				zap.String("column", column))
			continue
		}
		valid[idx] = condition
	}
	if len(valid) == 0 {
		r.logger.Warn("none of the filter columns exist, skipping re-scrape")
		return nil
	}
	idCol, hasID := columns["id"]
	if !hasID {
		r.logger.Warn("merged table has no id column, cannot re-scrape")
		return nil
	}

	var ids []int64
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.logger.Warn("merged table row unreadable", zap.Error(err))
			break
		}
		if !rowMatches(row, valid) || idCol >= len(row) {
			continue
		}
		if id, ok := decodeIDCell(row[idCol]); ok {
			ids = append(ids, id)
		}
	}
	r.logger.Info("ids matching re-scrape filter", zap.Int("count", len(ids)))
	return ids
}

func rowMatches(row []string, conditions map[int]Condition) bool {
	for idx, condition := range conditions {
		var cell string
		if idx < len(row) {
			cell = row[idx]
		}
		missing := cell == "" || cell == "null"
		switch condition.Kind {
		case CondMissing:
			if !missing {
				return false
			}
		case CondPresent:
			if missing {
				return false
			}
		case CondContains:
			// Substring filters match the literal cell text, so a "null" cell
			// is still searchable even though presence checks treat it as
			// missing.
			if !strings.Contains(strings.ToLower(cell), strings.ToLower(condition.Substring)) {
				return false
			}
		}
	}
	return true
}

/// Resolve computes the run's work set: target IDs minus already-processed
// IDs, plus any IDs selected by the re-scrape filter, sorted descending.
func (r *Resolver) Resolve(targetFile, priorBatchesDir, mergedCSV string, filter Filter) ([]int64, error) {
	targets, err := r.LoadTargetIDs(targetFile)
	if err != nil {
		return nil, err
	}
	processed := r.LoadProcessedIDs(priorBatchesDir)

	work := make(map[int64]struct{}, len(targets))
	for id := range targets {
		if _, done := processed[id]; !done {
			work[id] = struct{}{}
		}
	}
	for _, id := range r.RescrapeIDs(mergedCSV, filter) {
		work[id] = struct{}{}
	}

	ids := make([]int64, 0, len(work))
	for id := range work {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	r.logger.Info("resolved work set",
		zap.Int("targets", len(targets)),
		zap.Int("processed", len(processed)),
		zap.Int("to_scrape", len(ids)),
	)
	return ids, nil
}

// Partition splits ids into at most n contiguous, near-equal chunks. Fewer
// chunks are returned only when there are fewer ids than workers.
func Partition(ids []int64, n int) [][]int64 {
	if len(ids) == 0 || n <= 0 {
		return nil
	}
	if len(ids) < n {
		n = len(ids)
	}
	chunkSize := (len(ids) + n - 1) / n
	var chunks [][]int64
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
