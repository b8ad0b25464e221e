// ABOUTME: In-process transcript of observer activity and its markdown session notes.
// ABOUTME: Notes are appended to a file on shutdown and rendered to HTML with goldmark.

package conversation

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
)

// Role identifies who produced a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

const noteContentRunes = 200

// Entry is one transcript line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
}

// Transcript is safe for concurrent use.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

// Add appends an entry.
func (t *Transcript) Add(role Role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{Timestamp: t.now().UTC(), Role: role, Content: content})
}

// Entries returns a copy of the transcript.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

// Notes renders the transcript as a markdown section. Empty when there is
// nothing to record.
func (t *Transcript) Notes() string {
	entries := t.Entries()
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n## Session %s\n\n", entries[0].Timestamp.Format("2006-01-02"))
	for _, e := range entries {
		fmt.Fprintf(&b, "- **%s** (%s): %s\n", e.Role, e.Timestamp.Format("15:04:05"), noteLine(e.Content))
	}
	return b.String()
}

// SaveNotes appends Notes to path, creating it and its directory as needed.
func (t *Transcript) SaveNotes(path string) error {
	notes := t.Notes()
	if notes == "" || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating notes dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening notes file: %w", err)
	}
	if _, err := f.WriteString(notes); err != nil {
		f.Close()
		return fmt.Errorf("writing notes: %w", err)
	}
	return f.Close()
}

// RenderNotes converts the notes file at path to HTML. A missing file
// renders as an empty page.
func RenderNotes(path string) ([]byte, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		src = []byte("# Session notes\n\nNo sessions recorded yet.\n")
	} else if err != nil {
		return nil, fmt.Errorf("reading notes: %w", err)
	}

	var buf bytes.Buffer
	if err := goldmark.Convert(src, &buf); err != nil {
		return nil, fmt.Errorf("rendering notes: %w", err)
	}
	return buf.Bytes(), nil
}

// noteLine flattens content to one line of at most noteContentRunes runes.
func noteLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > noteContentRunes {
		return string(r[:noteContentRunes]) + "…"
	}
	return s
}
