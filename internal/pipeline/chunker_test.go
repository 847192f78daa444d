package pipeline

import (
	"errors"
	"strings"
	"testing"

	"github.com/docuflow-ai/docuflow/internal/core"
)

func TestChunk(t *testing.T) {
	t.Run("empty input yields no chunks", func(t *testing.T) {
		for _, text := range []string{"", "   ", "\n\t  \n"} {
			chunks, err := Chunk(text, 500, 50)
			if err != nil {
				t.Fatalf("Chunk(%q) returned error: %v", text, err)
			}
			if len(chunks) != 0 {
				t.Fatalf("Chunk(%q) = %d chunks, want 0", text, len(chunks))
			}
		}
	})

	t.Run("short text is a single chunk", func(t *testing.T) {
		chunks, err := Chunk("hello world", 500, 50)
		if err != nil {
			t.Fatal(err)
		}
		if len(chunks) != 1 || chunks[0] != "hello world" {
			t.Fatalf("got %v, want [hello world]", chunks)
		}
	})

	t.Run("windows overlap by the configured amount", func(t *testing.T) {
		text := strings.Repeat("a", 1000)
		chunks, err := Chunk(text, 500, 50)
		if err != nil {
			t.Fatal(err)
		}
		// Window one at 0, window two at 450 absorbing the short tail.
		if len(chunks) != 2 {
			t.Fatalf("got %d chunks, want 2", len(chunks))
		}
		if len(chunks[0]) != 500 {
			t.Fatalf("first window has length %d, want 500", len(chunks[0]))
		}
		if len(chunks[1]) != 550 {
			t.Fatalf("second window has length %d, want 550 (450..1000)", len(chunks[1]))
		}
	})

	t.Run("five windows over two thousand runes", func(t *testing.T) {
		chunks, err := Chunk(strings.Repeat("b", 2000), 500, 50)
		if err != nil {
			t.Fatal(err)
		}
		if len(chunks) != 5 {
			t.Fatalf("got %d chunks, want 5", len(chunks))
		}
	})

	t.Run("overlapping region repeats across consecutive chunks", func(t *testing.T) {
		var sb strings.Builder
		for i := 0; i < 200; i++ {
			sb.WriteRune(rune('0' + i%10))
		}
		chunks, err := Chunk(sb.String(), 100, 20)
		if err != nil {
			t.Fatal(err)
		}
		for i := 1; i < len(chunks); i++ {
			prevTail := chunks[i-1][len(chunks[i-1])-20:]
			if !strings.HasPrefix(chunks[i], prevTail) {
				t.Fatalf("chunk %d does not start with the previous chunk's tail", i)
			}
		}
	})

	t.Run("multibyte runes never split", func(t *testing.T) {
		text := strings.Repeat("héllo wörld ", 100)
		chunks, err := Chunk(text, 50, 10)
		if err != nil {
			t.Fatal(err)
		}
		for i, ch := range chunks {
			if !strings.Contains(text, ch) {
				t.Fatalf("chunk %d carries bytes that are not a substring of the input", i)
			}
		}
	})

	t.Run("invalid parameters", func(t *testing.T) {
		cases := []struct {
			name          string
			size, overlap int
		}{
			{"zero size", 0, 0},
			{"negative size", -1, 0},
			{"negative overlap", 100, -1},
			{"overlap equals size", 100, 100},
			{"overlap exceeds size", 100, 150},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := Chunk("some text", tc.size, tc.overlap)
				if !errors.Is(err, core.ErrInvalidConfig) {
					t.Fatalf("Chunk(size=%d, overlap=%d) error = %v, want invalid config", tc.size, tc.overlap, err)
				}
			})
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		text := strings.Repeat("the quick brown fox ", 60)
		first, err := Chunk(text, 120, 30)
		if err != nil {
			t.Fatal(err)
		}
		second, err := Chunk(text, 120, 30)
		if err != nil {
			t.Fatal(err)
		}
		if len(first) != len(second) {
			t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("chunk %d differs between runs", i)
			}
		}
	})
}
