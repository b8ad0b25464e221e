// ABOUTME: search_code tool: literal substring search over workspace text files.
// ABOUTME: Skips vendored and VCS directories, binary files, and stops at the result cap.

package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxSearchResults = 100
	maxSearchDepth   = 10
	binarySniffLen   = 8000
)

var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
}

type searchMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

type searchResult struct {
	Query     string        `json:"query"`
	Results   []searchMatch `json:"results"`
	Total     int           `json:"total"`
	Truncated bool          `json:"truncated"`
}

func (r searchResult) auditDetail() string {
	return fmt.Sprintf("%d results", r.Total)
}

type searcher struct {
	e       *Executor
	query   string
	pattern string
	results []searchMatch
}

func (e *Executor) searchCode(ctx context.Context, in map[string]string) (any, error) {
	query, err := required(in, "query")
	if err != nil {
		return nil, err
	}
	root := e.root
	if r := in["root"]; r != "" {
		if root, err = e.resolve(r); err != nil {
			return nil, err
		}
	}

	s := &searcher{e: e, query: query, pattern: globName(in["glob"])}
	if err := s.walk(ctx, root, 0); err != nil {
		return nil, err
	}

	results := s.results
	if results == nil {
		results = []searchMatch{}
	}
	return searchResult{
		Query:     query,
		Results:   results,
		Total:     len(results),
		Truncated: len(results) >= maxSearchResults,
	}, nil
}

func (s *searcher) full() bool {
	return len(s.results) >= maxSearchResults
}

func (s *searcher) walk(ctx context.Context, dir string, depth int) error {
	if depth > maxSearchDepth {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if s.full() {
			return nil
		}
		if skipDirs[entry.Name()] {
			continue
		}
		// Symlinks are not followed; they may point outside the workspace.
		if entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := s.walk(ctx, path, depth+1); err != nil {
				return err
			}
			continue
		}
		if !entry.Type().IsRegular() || !s.matches(entry.Name()) {
			continue
		}
		s.scan(path)
	}
	return nil
}

func (s *searcher) matches(name string) bool {
	if s.pattern == "" {
		return true
	}
	ok, err := filepath.Match(s.pattern, name)
	return err == nil && ok
}

func (s *searcher) scan(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > s.e.maxFileSize {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 {
		return
	}

	rel := s.e.relative(path)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if !strings.Contains(text, s.query) {
			continue
		}
		s.results = append(s.results, searchMatch{File: rel, Line: line, Text: strings.TrimSpace(text)})
		if s.full() {
			return
		}
	}
}

// globName reduces a glob to the pattern applied to file names.
// "**" and "" match everything; "src/**/*.ts" matches "*.ts".
func globName(glob string) string {
	glob = strings.TrimSpace(glob)
	if i := strings.LastIndex(glob, "/"); i >= 0 {
		glob = glob[i+1:]
	}
	if glob == "**" || glob == "*" {
		return ""
	}
	return glob
}
