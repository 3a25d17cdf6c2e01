package process

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Paintersrp/devsup/internal/runtime"
)

// lineWriter splits a child's output stream into log entries.
type lineWriter struct {
	emitFn func(runtime.LogEntry)
	source string
	level  string
	buf    bytes.Buffer
	mu     sync.Mutex
}

func newLineWriter(emit func(runtime.LogEntry), source, level string) *lineWriter {
	return &lineWriter{emitFn: emit, source: source, level: level}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := len(p)
	reader := bufio.NewReader(bytes.NewReader(p))
	for {
		segment, err := reader.ReadBytes('\n')
		if len(segment) > 0 {
			if segment[len(segment)-1] == '\n' {
				w.buf.Write(bytes.TrimRight(segment, "\r\n"))
				w.emit(w.buf.String())
				w.buf.Reset()
			} else {
				w.buf.Write(segment)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return total, err
		}
	}
	return total, nil
}

func (w *lineWriter) emit(line string) {
	if line == "" {
		return
	}
	w.emitFn(runtime.LogEntry{Message: line, Source: w.source, Level: w.level})
}

// Close flushes a trailing line that was not newline terminated.
func (w *lineWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	w.emit(w.buf.String())
	w.buf.Reset()
}

func droppedMessage(count int) string {
	return fmt.Sprintf("dropped=%d", count)
}
