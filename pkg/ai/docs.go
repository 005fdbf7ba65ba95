package ai

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/ledongthuc/pdf"
	"lumosai/pkg/domain"
)

// ExtractDocumentText renders a document part as plain text for backends
// without native document input. PDFs are read page by page and HTML is
// converted to markdown.
func ExtractDocumentText(doc domain.DocumentPart) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(doc.Data)
	if err != nil {
		return "", fmt.Errorf("decode document: %w", err)
	}
	mediaType := strings.ToLower(strings.TrimSpace(doc.MediaType))
	switch {
	case mediaType == "application/pdf":
		return pdfText(raw)
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		markdown, err := htmltomarkdown.ConvertString(string(raw))
		if err != nil {
			return "", fmt.Errorf("convert html: %w", err)
		}
		return strings.TrimSpace(markdown), nil
	case isTextMediaType(mediaType):
		return string(raw), nil
	default:
		return "", fmt.Errorf("unsupported document type %q", doc.MediaType)
	}
}

func pdfText(raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no text extracted from pdf")
	}
	return b.String(), nil
}

func isTextMediaType(mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/x-yaml", "application/yaml":
		return true
	}
	return false
}

// documentAsText is the text a backend without document input receives: the
// extracted content prefixed with the file name, or a JSON description when
// nothing could be extracted.
func documentAsText(doc domain.DocumentPart) string {
	text, err := ExtractDocumentText(doc)
	if err != nil || strings.TrimSpace(text) == "" {
		return describePart("document", doc.MediaType, doc.FileName)
	}
	name := doc.FileName
	if name == "" {
		name = "document"
	}
	return fmt.Sprintf("[%s]\n%s", name, text)
}

// describePart is the JSON fallback for content a backend cannot render.
func describePart(kind, mediaType, fileName string) string {
	payload := map[string]string{"type": kind}
	if mediaType != "" {
		payload["mimeType"] = mediaType
	}
	if fileName != "" {
		payload["fileName"] = fileName
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func rawAsText(p domain.RawPart) string {
	return describePart(string(p.Kind), p.MediaType, p.FileName)
}

// parseDataURI splits data:<mime>;base64,<payload>. ok is false for anything
// else, which callers treat as an external URL.
func parseDataURI(uri string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(uri, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", "", false
	}
	return mediaType, payload, true
}
