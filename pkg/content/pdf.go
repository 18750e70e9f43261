package content

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

var (
	errEmptyPDFContent = errors.New("pdf content is empty")
	errNilPDFDocument  = errors.New("pdf document is nil")
)

// ExtractFromPDFBytes extracts the plain text and, when present, the document info title.
func ExtractFromPDFBytes(data []byte) (text, title string, err error) {
	if len(data) == 0 {
		return "", "", errEmptyPDFContent
	}

	// The pdf package panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			text, title, err = "", "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", "", err
	}

	text, err = extractTextFromPDFDocument(doc)
	if err != nil {
		return "", "", err
	}
	return text, pdfTitle(doc), nil
}

// extractTextFromPDFDocument turns a pdf.Reader into a plain-text string.
func extractTextFromPDFDocument(doc *pdf.Reader) (string, error) {
	if doc == nil {
		return "", errNilPDFDocument
	}

	textReader, err := doc.GetPlainText()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, textReader); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func pdfTitle(doc *pdf.Reader) (title string) {
	defer func() {
		if recover() != nil {
			title = ""
		}
	}()
	return strings.TrimSpace(doc.Trailer().Key("Info").Key("Title").Text())
}
