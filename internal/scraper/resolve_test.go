package scraper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTargetIDsSkipsNonNumericLines(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ids.txt", "123\n456\nabc\n\n  789  \n12e4\n")

	resolver := NewResolver(DefaultTrackers(), zap.NewNop())
	ids, err := resolver.LoadTargetIDs(path)
	require.NoError(t, err)
	require.Equal(t, map[int64]struct{}{123: {}, 456: {}, 789: {}}, ids)
}

func TestLoadProcessedIDsWalksNestedBatches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "window_0/001.csv", "error,id,url\nfalse,\"123\",\"https://x\"\n")
	writeFile(t, dir, "window_1/001.csv", "id\n456\n")
	writeFile(t, dir, "window_1/notes.txt", "not a batch")

	resolver := NewResolver(DefaultTrackers(), zap.NewNop())
	processed := resolver.LoadProcessedIDs(dir)
	require.Equal(t, map[int64]struct{}{123: {}, 456: {}}, processed)
}

func TestLoadProcessedIDsMissingDirIsEmpty(t *testing.T) {
	resolver := NewResolver(DefaultTrackers(), zap.NewNop())
	require.Empty(t, resolver.LoadProcessedIDs(filepath.Join(t.TempDir(), "nope")))
}

func TestParseFilter(t *testing.T) {
	filter, err := ParseFilter(map[string]any{
		"fixed_components": true,
		"title":            false,
		"Crash Type":       "heap",
	})
	require.NoError(t, err)
	require.Equal(t, Filter{
		"fixed_components": {Kind: CondMissing},
		"title":            {Kind: CondPresent},
		"Crash Type":       {Kind: CondContains, Substring: "heap"},
	}, filter)

	_, err = ParseFilter(map[string]any{"title": 7})
	require.Error(t, err)
}

func TestRescrapeIDsAppliesConditions(t *testing.T) {
	dir := t.TempDir()
	merged := writeFile(t, dir, "merged.csv",
		`id,title,Crash Type,fixed_components
"101","Heap-buffer-overflow","Heap-buffer-overflow READ",null
"102","Use-after-free","Use-after-free WRITE",null
"103","Heap-buffer-overflow","Heap-buffer-overflow READ","[""/src/x""]"
`)

	resolver := NewResolver(DefaultTrackers(), zap.NewNop())

	// Missing fixed_components AND crash type containing "heap".
	filter := Filter{
		"fixed_components": {Kind: CondMissing},
		"Crash Type":       {Kind: CondContains, Substring: "heap"},
	}
	require.Equal(t, []int64{101}, resolver.RescrapeIDs(merged, filter))

	// Present value.
	require.Equal(t, []int64{103},
		resolver.RescrapeIDs(merged, Filter{"fixed_components": {Kind: CondPresent}}))

	// Unknown columns are skipped; with no usable column nothing matches.
	require.Empty(t, resolver.RescrapeIDs(merged, Filter{"no_such_column": {Kind: CondMissing}}))

	// Missing file selects nothing.
	require.Empty(t, resolver.RescrapeIDs(filepath.Join(dir, "absent.csv"), filter))
}

func TestRescrapeIDsContainsMatchesLiteralNull(t *testing.T) {
	dir := t.TempDir()
	merged := writeFile(t, dir, "merged.csv",
		`id,crash_state
"101",null
"102","png_read_info"
`)

	resolver := NewResolver(DefaultTrackers(), zap.NewNop())
	// A substring filter searches the literal cell text, "null" included.
	require.Equal(t, []int64{101},
		resolver.RescrapeIDs(merged, Filter{"crash_state": {Kind: CondContains, Substring: "null"}}))
}

func TestResolveSubtractsProcessedAndSortsDescending(t *testing.T) {
	dir := t.TempDir()
	targets := writeFile(t, dir, "ids.txt", "123\n456\nabc\n")
	batches := filepath.Join(dir, "results")
	writeFile(t, batches, "run/window_0/001.csv", "id\n\"123\"\n")

	resolver := NewResolver(DefaultTrackers(), zap.NewNop())
	ids, err := resolver.Resolve(targets, batches, "", nil)
	require.NoError(t, err)
	require.Equal(t, []int64{456}, ids)
}

func TestResolveMergesRescrapeSetWithoutDuplicates(t *testing.T) {
	dir := t.TempDir()
	targets := writeFile(t, dir, "ids.txt", "100\n200\n300\n")
	batches := filepath.Join(dir, "results")
	writeFile(t, batches, "window_0/001.csv", "id\n\"200\"\n\"300\"\n")
	merged := writeFile(t, dir, "merged.csv", "id,title\n\"300\",null\n")

	resolver := NewResolver(DefaultTrackers(), zap.NewNop())
	ids, err := resolver.Resolve(targets, batches, merged, Filter{"title": {Kind: CondMissing}})
	require.NoError(t, err)
	// 300 is re-added by the filter despite being processed; no duplicates.
	require.Equal(t, []int64{300, 100}, ids)
}

func TestResolveAllTargetsProcessedYieldsEmptyWorkSet(t *testing.T) {
	dir := t.TempDir()
	targets := writeFile(t, dir, "ids.txt", "100\n200\n")
	batches := filepath.Join(dir, "results")
	writeFile(t, batches, "run/window_0/001.csv", "id\n\"100\"\n")
	writeFile(t, batches, "run/window_1/001.csv", "id\n\"200\"\n")

	resolver := NewResolver(DefaultTrackers(), zap.NewNop())
	ids, err := resolver.Resolve(targets, batches, "", nil)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestResolveMissingTargetFile(t *testing.T) {
	resolver := NewResolver(DefaultTrackers(), zap.NewNop())
	_, err := resolver.Resolve(filepath.Join(t.TempDir(), "nope.txt"), "", "", nil)
	require.Error(t, err)
}

func TestLoadTargetIDsEmptyFileIsSentinel(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ids.txt", "not-an-id\n")

	resolver := NewResolver(DefaultTrackers(), zap.NewNop())
	_, err := resolver.LoadTargetIDs(path)
	require.ErrorIs(t, err, ErrNoTargetIDs)
}

func TestPartition(t *testing.T) {
	ids := []int64{9, 8, 7, 6, 5, 4, 3}

	chunks := Partition(ids, 3)
	require.Equal(t, [][]int64{{9, 8, 7}, {6, 5, 4}, {3}}, chunks)

	require.Equal(t, [][]int64{{9}, {8}}, Partition([]int64{9, 8}, 5),
		"never more chunks than ids")
	require.Nil(t, Partition(nil, 4))
	require.Equal(t, [][]int64{ids}, Partition(ids, 1))
}
