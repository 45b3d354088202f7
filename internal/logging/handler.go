package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// CustomHandler renders one line per record:
//
//	[2006-01-02 15:04:05] [info] [file.go:42] message | key=value key=value
//
// Attributes whose key names a credential are redacted before rendering.
type CustomHandler struct {
	w         io.Writer
	level     *slog.LevelVar
	addSource bool
	mu        *sync.Mutex
}

func NewCustomHandler(w io.Writer, level *slog.LevelVar, addSource bool) *CustomHandler {
	return &CustomHandler{
		w:         w,
		level:     level,
		addSource: addSource,
		mu:        &sync.Mutex{},
	}
}

func (h *CustomHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *CustomHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(r.Time.Format("2006-01-02 15:04:05"))
	b.WriteString("] [")
	b.WriteString(strings.ToLower(r.Level.String()))
	b.WriteString("] ")

	if h.addSource && r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		fmt.Fprintf(&b, "[%s:%d] ", filepath.Base(f.File), f.Line)
	}
	b.WriteString(r.Message)

	attrs := make([]string, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a.Key+"="+renderAttr(a))
		return true
	})
	if len(attrs) > 0 {
		sort.Strings(attrs)
		b.WriteString(" | ")
		b.WriteString(strings.Join(attrs, " "))
	}
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func renderAttr(a slog.Attr) string {
	value := fmt.Sprintf("%v", a.Value.Any())
	if isSensitiveKey(a.Key) {
		return MaskHeader(a.Key, value)
	}
	return value
}

func (h *CustomHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *CustomHandler) WithGroup(_ string) slog.Handler {
	return h
}
