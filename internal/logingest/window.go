package logingest

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// AppendedStart returns the byte offset to read from so that only data
// written after offset is captured, never more than maxBytes of it. A file
// that shrank below offset (rotation or truncation) is read from its tail.
func AppendedStart(length, offset, maxBytes int64) int64 {
	if maxBytes < 0 {
		maxBytes = 0
	}
	start := offset
	if start > length {
		start = length
	}
	if start < 0 {
		start = 0
	}
	if length < offset {
		start = tailStart(length, maxBytes)
	}
	if length-start > maxBytes {
		start = tailStart(length, maxBytes)
	}
	return start
}

func tailStart(length, maxBytes int64) int64 {
	if length <= maxBytes {
		return 0
	}
	return length - maxBytes
}

// FileLen returns the current size of the file at path.
func FileLen(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadAppendedSegment reads what was appended to path since offset, capped
// at maxBytes trailing bytes.
func ReadAppendedSegment(path string, offset, maxBytes int64) (string, error) {
	length, err := FileLen(path)
	if err != nil {
		return "", err
	}
	return readRange(path, AppendedStart(length, offset, maxBytes), length)
}

// ReadTail reads the last maxBytes bytes of path.
func ReadTail(path string, maxBytes int64) (string, error) {
	length, err := FileLen(path)
	if err != nil {
		return "", err
	}
	return readRange(path, tailStart(length, maxBytes), length)
}

func readRange(path string, start, end int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if end <= start {
		return "", nil
	}
	buf, err := io.ReadAll(io.NewSectionReader(f, start, end-start))
	if err != nil {
		return "", fmt.Errorf("read %s [%d,%d): %w", path, start, end, err)
	}
	return strings.ToValidUTF8(string(buf), "�"), nil
}

// TakeLastLines keeps the last maxLines trimmed, non-empty lines.
func TakeLastLines(content string, maxLines int) []string {
	var lines []string
	for _, l := range splitLines(content) {
		if t := strings.TrimSpace(l); t != "" {
			lines = append(lines, t)
		}
	}
	if maxLines >= 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}
