// ABOUTME: Unified diff inspection for staging: touched files and line counts.
// ABOUTME: Rejects diffs with no file headers and diffs whose paths leave the working tree.

package patch

import (
	"path"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"

	"github.com/2389/workbridge/internal/protocol"
)

type diffStats struct {
	files     []string
	additions int
	deletions int
}

// parseDiff counts changes in a unified (git-style or traditional) diff.
// Hunk bodies are consumed by their header line counts, so content lines
// that start with "--- " or "+++ " are counted as changes, not headers.
func parseDiff(diff string) (diffStats, error) {
	var stats diffStats

	files, _, err := gitdiff.Parse(strings.NewReader(diff))
	if err != nil {
		return stats, protocol.Errorf(protocol.KindValidation, "", "malformed diff: %v", err)
	}
	if len(files) == 0 {
		return stats, protocol.Errorf(protocol.KindValidation, "", "diff has no file headers")
	}

	// Traditional headers keep their a/ and b/ prefixes; git headers arrive stripped.
	traditional := !strings.HasPrefix(diff, "diff --git ") && !strings.Contains(diff, "\ndiff --git ")

	seen := make(map[string]bool)
	for _, f := range files {
		for _, name := range []string{f.OldName, f.NewName} {
			if name == "" {
				continue
			}
			if traditional {
				name = stripPrefix(name)
			}
			if err := checkPath(name); err != nil {
				return stats, err
			}
			if !seen[name] {
				seen[name] = true
				stats.files = append(stats.files, name)
			}
		}
		for _, frag := range f.TextFragments {
			stats.additions += int(frag.LinesAdded)
			stats.deletions += int(frag.LinesDeleted)
		}
	}
	return stats, nil
}

func stripPrefix(name string) string {
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}

func checkPath(name string) error {
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return protocol.Errorf(protocol.KindPolicy, protocol.CodePathEscape, "diff touches absolute path %q", name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return protocol.Errorf(protocol.KindPolicy, protocol.CodePathEscape, "diff touches path outside workspace %q", name)
	}
	return nil
}
