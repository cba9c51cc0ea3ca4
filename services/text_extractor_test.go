package services

import (
	"strings"
	"testing"
)

func TestChunkTextShortInput(t *testing.T) {
	chunks := ChunkText("a short note", 2000)
	if len(chunks) != 1 || chunks[0] != "a short note" {
		t.Fatalf("ChunkText = %v, want single chunk", chunks)
	}

	if chunks := ChunkText("   \n\n  ", 2000); chunks != nil {
		t.Errorf("blank input should yield no chunks, got %v", chunks)
	}
}

func TestChunkTextParagraphBoundaries(t *testing.T) {
	para := strings.Repeat("word ", 30) // ~150 chars
	text := strings.TrimSpace(strings.Repeat(para+"\n\n", 10))

	chunks := ChunkText(text, 400)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 400 {
			t.Errorf("chunk %d has %d chars, exceeds limit", i, len(c))
		}
		if strings.TrimSpace(c) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}
}

func TestChunkTextOversizedParagraph(t *testing.T) {
	text := strings.Repeat("abcdefghij ", 100) // one 1100-char paragraph, no breaks
	chunks := ChunkText(text, 300)

	if len(chunks) < 3 {
		t.Fatalf("expected hard splits, got %d chunks", len(chunks))
	}
	var rebuilt int
	for i, c := range chunks {
		if len(c) > 300 {
			t.Errorf("chunk %d has %d chars, exceeds limit", i, len(c))
		}
		rebuilt += len(strings.ReplaceAll(c, " ", ""))
	}
	original := len(strings.ReplaceAll(strings.TrimSpace(text), " ", ""))
	if rebuilt != original {
		t.Errorf("chunking lost text: %d chars out, %d in", rebuilt, original)
	}
}

func TestExtractHTML(t *testing.T) {
	extractor := NewTextExtractor()

	html := `<html><head><title>ignored</title><style>p{color:red}</style></head>
<body><h1>Saved Article</h1><p>First paragraph of the article body.</p>
<script>console.log("skip me")</script><p>Second paragraph.</p></body></html>`

	text, err := extractor.ExtractHTML([]byte(html))
	if err != nil {
		t.Fatalf("ExtractHTML failed: %v", err)
	}
	if !strings.Contains(text, "Saved Article") || !strings.Contains(text, "Second paragraph.") {
		t.Errorf("extracted text missing content: %q", text)
	}
	if strings.Contains(text, "skip me") || strings.Contains(text, "color:red") {
		t.Errorf("extracted text includes script/style content: %q", text)
	}
}

func TestExtractHTMLNoVisibleText(t *testing.T) {
	extractor := NewTextExtractor()
	if _, err := extractor.ExtractHTML([]byte("<html><head><script>x()</script></head><body></body></html>")); err == nil {
		t.Error("expected an error for a document with no visible text")
	}
}

func TestExtractDOCX(t *testing.T) {
	extractor := NewTextExtractor()
	if _, err := extractor.ExtractDOCX([]byte("not a zip archive")); err == nil {
		t.Error("expected an error for a non-zip payload")
	}
}

func TestSanitizePDF(t *testing.T) {
	body := []byte("%PDF-1.4 fake content ... %%EOF")
	withGarbage := append(append([]byte{}, body...), []byte("\nTRAILING JUNK FROM BAD UPLOADER")...)

	cleaned := sanitizePDF(withGarbage)
	if !strings.HasSuffix(strings.TrimSpace(string(cleaned)), "%%EOF") {
		t.Errorf("sanitizePDF should truncate after the last %%%%EOF, got %q", cleaned)
	}

	// No marker: input passes through untouched.
	raw := []byte("no marker here")
	if string(sanitizePDF(raw)) != string(raw) {
		t.Error("sanitizePDF should leave marker-less input alone")
	}
}
