// ABOUTME: read_file tool: returns the contents of one file inside the workspace.

package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/2389/workbridge/internal/protocol"
)

type readFileResult struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Size    int    `json:"size"`
}

func (r readFileResult) auditDetail() string {
	return fmt.Sprintf("%d bytes", r.Size)
}

func (e *Executor) readFile(_ context.Context, in map[string]string) (any, error) {
	p, err := required(in, "path")
	if err != nil {
		return nil, err
	}
	abs, err := e.resolve(p)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, protocol.Errorf(protocol.KindValidation, protocol.CodeNotFound, "file not found: %s", p)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return nil, protocol.Errorf(protocol.KindValidation, "", "%s is a directory", p)
	}
	if info.Size() > e.maxFileSize {
		return nil, protocol.Errorf(protocol.KindValidation, "", "%s is %d bytes, larger than the %d byte limit", p, info.Size(), e.maxFileSize)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return readFileResult{Path: p, Content: string(data), Size: len(data)}, nil
}
