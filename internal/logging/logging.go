package logging

import (
	"io"
	"log/slog"
	"os"
)

// New builds the application logger and the ring it records into. The ring
// is injected wherever recent-log access is needed; swapping it for a
// persistent sink only touches this constructor.
func New(ringSize int) (*slog.Logger, *Ring) {
	return NewWithWriter(os.Stderr, ringSize)
}

// NewWithWriter is New with an explicit output writer. Useful for tests.
func NewWithWriter(w io.Writer, ringSize int) (*slog.Logger, *Ring) {
	ring := NewRing(ringSize)
	inner := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(&ringHandler{ring: ring, inner: inner}), ring
}
