// ABOUTME: Parser for text confirmation blocks an assistant may write into its reply.
// ABOUTME: Format: "CONFIRM:" then "Question: ..." then "Options:" and numbered "1) ..." lines.

package confirm

import (
	"regexp"
	"strings"
)

var (
	confirmBlockPattern = regexp.MustCompile(`CONFIRM:\s*\n\s*Question:\s*(.+)\n\s*Options:\s*\n((?:[ \t]*\d+\)[ \t]*.+\n?)+)`)
	optionLinePattern   = regexp.MustCompile(`\d+\)\s*(.+)`)
)

// ParseConfirmBlock extracts a question and its options from text.
// ok is false when text has no well-formed block.
func ParseConfirmBlock(text string) (question string, options []string, ok bool) {
	m := confirmBlockPattern.FindStringSubmatch(text)
	if m == nil {
		return "", nil, false
	}
	question = strings.TrimSpace(m[1])
	for _, om := range optionLinePattern.FindAllStringSubmatch(m[2], -1) {
		options = append(options, strings.TrimSpace(om[1]))
	}
	if question == "" || len(options) == 0 {
		return "", nil, false
	}
	return question, options, true
}
