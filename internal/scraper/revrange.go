package scraper

import "strings"

// revisionHashMinLen distinguishes a commit:commit range from unrelated text
// that happens to contain a colon; real revision hashes are well past 10
// characters on either side.
const revisionHashMinLen = 10

// SplitRevisionRange classifies a revision cell as a single token or a
// before:after pair. The text is split on the first colon only when both
// halves exceed the hash length heuristic; otherwise it is returned unsplit.
func SplitRevisionRange(text string) []string {
	before, after, found := strings.Cut(text, ":")
	if found && len(before) > revisionHashMinLen && len(after) > revisionHashMinLen {
		return []string{before, after}
	}
	return []string{text}
}
