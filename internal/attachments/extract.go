package attachments

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	MimePDF  = "application/pdf"
	MimeDOC  = "application/msword"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeText = "text/plain"
)

var allowedDocuments = map[string]bool{MimePDF: true, MimeDOC: true, MimeDOCX: true, MimeText: true}

// DetectMime prefers the declared type, then the HTTP header, then sniffing.
func DetectMime(declared, header string, data []byte) string {
	for _, candidate := range []string{declared, header} {
		if mt, _, err := mime.ParseMediaType(candidate); err == nil && mt != "" && mt != "application/octet-stream" {
			return mt
		}
	}
	if len(data) >= 4 && bytes.HasPrefix(data, []byte("%PDF")) {
		return MimePDF
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	if mt == "application/zip" && looksLikeDocx(data) {
		return MimeDOCX
	}
	return mt
}

func looksLikeDocx(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			return true
		}
	}
	return false
}

// Extract returns the document's plain text and extraction metadata.
func Extract(data []byte, mimeType string) (string, map[string]any, error) {
	var (
		text string
		meta map[string]any
		err  error
	)
	switch mimeType {
	case MimePDF:
		text, err = extractPDF(data)
		meta = map[string]any{"source": "pdf"}
	case MimeDOCX, MimeDOC:
		var paragraphs int
		text, paragraphs, err = extractDOCX(data)
		meta = map[string]any{"source": "docx", "paragraphs": paragraphs}
	case MimeText:
		text = string(data)
		meta = map[string]any{"source": "text"}
	default:
		return "", nil, processingError("unsupported_mime_type:" + mimeType)
	}
	if err != nil {
		return "", nil, processingError("extraction_failed")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, processingError("empty_document")
	}
	return text, meta, nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// extractDOCX reads word/document.xml and joins non-empty paragraphs.
func extractDOCX(data []byte) (string, int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}
	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", 0, io.ErrUnexpectedEOF
	}
	rc, err := doc.Open()
	if err != nil {
		return "", 0, err
	}
	defer rc.Close()

	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteByte('\t')
			case "br":
				current.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if p := strings.TrimSpace(current.String()); p != "" {
					paragraphs = append(paragraphs, p)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	return strings.Join(paragraphs, "\n\n"), len(paragraphs), nil
}

// Summarize truncates text to the first 800 characters.
func Summarize(text string) string {
	const limit = 800
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}
