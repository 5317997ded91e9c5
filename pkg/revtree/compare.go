package revtree

import (
	"strings"

	"github.com/surrealdb/multiversion/pkg/models"
)

// Compare orders revisions for winner selection: higher generation first,
// then the byte-wise greater id. It returns a positive number when a beats b.
// Every replica must use this exact order to converge without coordination.
func Compare(a, b models.RevisionID) int {
	ga, gb := a.Generation(), b.Generation()
	switch {
	case ga > gb:
		return 1
	case ga < gb:
		return -1
	}
	return strings.Compare(string(a), string(b))
}

// ascending sorts by generation then id, the order History uses.
func ascending(a, b models.RevisionID) int {
	return Compare(a, b)
}

func descending(a, b models.RevisionID) int {
	return Compare(b, a)
}
