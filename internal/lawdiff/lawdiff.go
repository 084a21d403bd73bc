// Package lawdiff compares a generated law tree against an uploaded one by
// normalized node name.
package lawdiff

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/timeers/root-website-sub000/internal/lawyaml"
)

var folder = cases.Fold()

// NormalizeName case-folds name, drops punctuation and collapses whitespace.
func NormalizeName(name string) string {
	folded := folder.String(name)
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, folded)
	return strings.Join(strings.Fields(stripped), " ")
}

// CompareStructureStrict reports every structural difference between the two
// sibling lists and, pairwise by index, their descendants. An empty result
// means the uploaded tree can be applied node by node onto the generated one.
// Messages come out in traversal order so identical inputs give identical
// reports.
func CompareStructureStrict(generated, uploaded []lawyaml.Node, path string) []string {
	var mismatches []string

	if len(generated) != len(uploaded) {
		mismatches = append(mismatches, fmt.Sprintf("%s: length mismatch (expected %d, got %d)", path, len(generated), len(uploaded)))
	}

	generatedNames := normalizeAll(generated)
	uploadedNames := normalizeAll(uploaded)
	generatedSet := toSet(generatedNames)
	uploadedSet := toSet(uploadedNames)

	for i, name := range generatedNames {
		if _, ok := uploadedSet[name]; !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: missing expected item %q", path, generated[i].Name))
		}
	}
	for i, name := range uploadedNames {
		if _, ok := generatedSet[name]; !ok {
			mismatches = append(mismatches, fmt.Sprintf("%s: unexpected item %q", path, uploaded[i].Name))
		}
	}

	for i := 0; i < len(generated) && i < len(uploaded); i++ {
		if generatedNames[i] != uploadedNames[i] {
			if found := indexOf(generatedNames, uploadedNames[i]); found >= 0 {
				mismatches = append(mismatches, fmt.Sprintf("%s[%d]: %q is out of order (expected %q, found at index %d)",
					path, i, uploaded[i].Name, generated[i].Name, found))
			} else {
				mismatches = append(mismatches, fmt.Sprintf("%s[%d]: name mismatch (expected %q, got %q)",
					path, i, generated[i].Name, uploaded[i].Name))
			}
		}
		childPath := path + "/" + generated[i].Name
		mismatches = append(mismatches, CompareStructureStrict(generated[i].Children, uploaded[i].Children, childPath)...)
	}
	return mismatches
}

func normalizeAll(nodes []lawyaml.Node) []string {
	names := make([]string, len(nodes))
	for i, node := range nodes {
		names[i] = NormalizeName(node.Name)
	}
	return names
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// indexOf returns the first position holding name. With duplicate sibling
// names the first textual match wins.
func indexOf(names []string, name string) int {
	for i, candidate := range names {
		if candidate == name {
			return i
		}
	}
	return -1
}
