package tools

import (
	"os"

	"github.com/ctagard/lldb-agent/internal/errors"
)

// SourceReader provides the text of the inspected program's source
type SourceReader interface {
	ReadInspectedSource() (string, error)
}

// FileSourceReader reads the source from a fixed path
type FileSourceReader struct {
	Path string
}

// ReadInspectedSource returns the file contents verbatim
func (r FileSourceReader) ReadInspectedSource() (string, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return "", errors.NotFound(r.Path, err)
	}
	return string(data), nil
}
