package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit_ParagraphBoundaries(t *testing.T) {
	t.Parallel()

	text := "First paragraph.\n\nSecond paragraph.\n\nThird."
	chunks := Split(text, 100)

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	want := []string{"First paragraph.", "Second paragraph.", "Third."}
	for i, w := range want {
		if chunks[i].Content != w {
			t.Errorf("chunk[%d] = %q, want %q", i, chunks[i].Content, w)
		}
	}
}

func TestSplit_OversizedParagraphWindows(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 25)
	chunks := Split(long, 10)

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 windows", len(chunks))
	}
	if chunks[0].Length != 10 || chunks[1].Length != 10 || chunks[2].Length != 5 {
		t.Errorf("window lengths = %d, %d, %d", chunks[0].Length, chunks[1].Length, chunks[2].Length)
	}
	if chunks[1].Offset != 10 || chunks[2].Offset != 20 {
		t.Errorf("window offsets = %d, %d", chunks[1].Offset, chunks[2].Offset)
	}
}

func TestSplit_OffsetsPointIntoOriginal(t *testing.T) {
	t.Parallel()

	text := "alpha beta gamma\n\n" + strings.Repeat("x", 30) + "\n\nlast one"
	chunks := Split(text, 12)

	prevEnd := -1
	for _, c := range chunks {
		if c.Offset <= prevEnd {
			t.Errorf("chunk %d offset %d overlaps previous end %d", c.Index, c.Offset, prevEnd)
		}
		if got := text[c.Offset : c.Offset+c.Length]; got != c.Content {
			t.Errorf("chunk %d: text[%d:%d] = %q, want %q", c.Index, c.Offset, c.Offset+c.Length, got, c.Content)
		}
		prevEnd = c.Offset + c.Length - 1
	}
}

func TestSplit_ConcatenationReconstructs(t *testing.T) {
	t.Parallel()

	text := "one two three\n\nfour five\n\n\n\nsix"
	chunks := Split(text, 8)

	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Content)
	}
	want := strings.ReplaceAll(text, "\n\n", "")
	if sb.String() != want {
		t.Errorf("concatenation = %q, want original minus separators %q", sb.String(), want)
	}
}

func TestSplit_MultiByteWindowsStayValidUTF8(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("気", 10)
	chunks := Split(text, 4)

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 windows", len(chunks))
	}
	var sb strings.Builder
	for _, c := range chunks {
		if !utf8.ValidString(c.Content) {
			t.Errorf("chunk %d is not valid UTF-8: %q", c.Index, c.Content)
		}
		if n := utf8.RuneCountInString(c.Content); n > 4 {
			t.Errorf("chunk %d has %d runes, want at most 4", c.Index, n)
		}
		if got := text[c.Offset : c.Offset+c.Length]; got != c.Content {
			t.Errorf("chunk %d: text[%d:%d] = %q, want %q", c.Index, c.Offset, c.Offset+c.Length, got, c.Content)
		}
		sb.WriteString(c.Content)
	}
	if sb.String() != text {
		t.Errorf("concatenation = %q, want %q", sb.String(), text)
	}
}

func TestSplit_MixedWidthText(t *testing.T) {
	t.Parallel()

	text := "ایک دو تین\n\nab気c"
	chunks := Split(text, 3)

	for _, c := range chunks {
		if !utf8.ValidString(c.Content) {
			t.Errorf("chunk %d is not valid UTF-8: %q", c.Index, c.Content)
		}
		if got := text[c.Offset : c.Offset+c.Length]; got != c.Content {
			t.Errorf("chunk %d: text[%d:%d] = %q, want %q", c.Index, c.Offset, c.Offset+c.Length, got, c.Content)
		}
	}
}

func TestSplit_EmptyText(t *testing.T) {
	t.Parallel()

	if chunks := Split("", 100); len(chunks) != 0 {
		t.Errorf("empty text produced %d chunks", len(chunks))
	}
}

func TestSplit_IndexesSequential(t *testing.T) {
	t.Parallel()

	chunks := Split("a\n\nb\n\nc", 1)
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk at position %d has index %d", i, c.Index)
		}
	}
}
