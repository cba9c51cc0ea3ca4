package services

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// TextExtractor pulls plain text out of the document formats the pipeline
// accepts: PDF, DOCX and HTML.
type TextExtractor struct{}

// NewTextExtractor creates a new text extractor
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// minExtractedChars guards against scanned/image-only documents that yield
// a handful of stray characters instead of real text.
const minExtractedChars = 50

// sanitizePDF truncates trailing garbage after the last %%EOF marker. PDFs
// downloaded from the web often carry HTML or tracker junk appended after
// the valid end of file, which trips the parser.
func sanitizePDF(content []byte) []byte {
	if len(content) == 0 || !bytes.HasPrefix(content, []byte("%PDF-")) {
		return content
	}

	eofMarker := []byte("%%EOF")
	lastEOF := bytes.LastIndex(content, eofMarker)
	if lastEOF == -1 {
		return content
	}

	pdfEnd := lastEOF + len(eofMarker)
	for pdfEnd < len(content) && (content[pdfEnd] == '\n' || content[pdfEnd] == '\r') {
		pdfEnd++
	}

	if extra := len(content) - pdfEnd; extra > 10 {
		log.Printf("TextExtractor: removing %d bytes of trailing garbage after %%EOF", extra)
		return content[:pdfEnd]
	}
	return content
}

// ExtractPDF extracts text from PDF bytes and returns it with the page count.
func (t *TextExtractor) ExtractPDF(content []byte) (string, int, error) {
	if len(content) == 0 {
		return "", 0, fmt.Errorf("empty PDF content")
	}

	content = sanitizePDF(content)

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, int64(len(content)))
	if err != nil {
		return "", 0, fmt.Errorf("failed to parse PDF: %w", err)
	}

	numPages := pdfReader.NumPage()
	if numPages == 0 {
		return "", 0, fmt.Errorf("PDF has no pages")
	}

	var textBuilder strings.Builder
	for i := 1; i <= numPages; i++ {
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}

		// Row extraction preserves document structure; fall back to plain
		// text when the page's layout defeats it.
		rows, err := page.GetTextByRow()
		if err != nil {
			text, plainErr := page.GetPlainText(nil)
			if plainErr != nil {
				log.Printf("TextExtractor: page %d extraction failed: %v", i, plainErr)
				continue
			}
			textBuilder.WriteString(text)
			textBuilder.WriteString("\n")
			continue
		}

		for _, row := range rows {
			var rowText strings.Builder
			for _, word := range row.Content {
				rowText.WriteString(word.S)
			}
			line := strings.TrimSpace(rowText.String())
			if line != "" {
				textBuilder.WriteString(line)
				textBuilder.WriteString("\n")
			}
		}
		textBuilder.WriteString("\n")
	}

	extracted := strings.TrimSpace(textBuilder.String())
	if len(extracted) < minExtractedChars {
		return "", 0, fmt.Errorf("insufficient text extracted from PDF (%d characters), document may be scanned or image-based", len(extracted))
	}
	return extracted, numPages, nil
}

// docxDocument mirrors the fragment of word/document.xml we care about:
// paragraphs of text runs.
type docxDocument struct {
	Body struct {
		Paragraphs []struct {
			Runs []struct {
				Text string `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"body"`
}

// ExtractDOCX extracts paragraph text from a DOCX archive.
func (t *TextExtractor) ExtractDOCX(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty DOCX content")
	}

	zipReader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open DOCX archive: %w", err)
	}

	var docFile *zip.File
	for _, f := range zipReader.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("invalid DOCX: word/document.xml not found")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open word/document.xml: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read word/document.xml: %w", err)
	}

	var doc docxDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("failed to parse word/document.xml: %w", err)
	}

	var textBuilder strings.Builder
	for _, para := range doc.Body.Paragraphs {
		var line strings.Builder
		for _, run := range para.Runs {
			line.WriteString(run.Text)
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			textBuilder.WriteString(s)
			textBuilder.WriteString("\n")
		}
	}

	extracted := strings.TrimSpace(textBuilder.String())
	if len(extracted) < minExtractedChars {
		return "", fmt.Errorf("insufficient text extracted from DOCX (%d characters)", len(extracted))
	}
	return extracted, nil
}

// ExtractHTML strips tags from an HTML document, skipping script and style
// subtrees, and returns the visible text.
func (t *TextExtractor) ExtractHTML(content []byte) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("empty HTML content")
	}

	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	var textBuilder strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				textBuilder.WriteString(s)
				textBuilder.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	extracted := strings.TrimSpace(textBuilder.String())
	if extracted == "" {
		return "", fmt.Errorf("no visible text in HTML document")
	}
	return extracted, nil
}

// ChunkText splits text into chunks of roughly maxChars runes, breaking on
// paragraph boundaries where possible so embeddings keep coherent context.
func ChunkText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = 2000
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		// A single oversized paragraph gets hard-split.
		for len(para) > maxChars {
			if current.Len() > 0 {
				flush()
			}
			cut := maxChars
			if idx := strings.LastIndex(para[:maxChars], " "); idx > maxChars/2 {
				cut = idx
			}
			chunks = append(chunks, strings.TrimSpace(para[:cut]))
			para = strings.TrimSpace(para[cut:])
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}
