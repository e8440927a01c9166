// Package docinspect validates admin document uploads and pulls the small
// amount of metadata the research prompt uses.
package docinspect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// MaxUploadBytes caps a single document upload.
const MaxUploadBytes int64 = 10 << 20

const (
	TypePDF  = "application/pdf"
	TypeDOC  = "application/msword"
	TypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypeText = "text/plain"

	maxExcerptRunes = 600
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file exceeds the 10 MB limit")
	ErrEmptyFile       = errors.New("file is empty")
	ErrCorruptFile     = errors.New("file could not be read")
)

var extensionTypes = map[string]string{
	".pdf":  TypePDF,
	".doc":  TypeDOC,
	".docx": TypeDOCX,
	".txt":  TypeText,
}

// Result describes an accepted upload.
type Result struct {
	ContentType string
	PageCount   int
	Excerpt     string
}

// ResolveType picks the MIME type for an upload from the declared part
// header, falling back to the file extension for generic declarations.
func ResolveType(filename, declared string) (string, error) {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
		mediaType = strings.ToLower(mediaType)
		for _, allowed := range extensionTypes {
			if mediaType == allowed {
				return mediaType, nil
			}
		}
		if mediaType != "application/octet-stream" {
			return "", ErrUnsupportedType
		}
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return t, nil
	}
	return "", ErrUnsupportedType
}

// Inspect validates the content of an upload of the given type.
func Inspect(r io.ReaderAt, size int64, contentType string) (Result, error) {
	if size <= 0 {
		return Result{}, ErrEmptyFile
	}
	if size > MaxUploadBytes {
		return Result{}, ErrTooLarge
	}
	res := Result{ContentType: contentType}
	switch contentType {
	case TypePDF:
		pages, excerpt, err := inspectPDF(r, size)
		if err != nil {
			return Result{}, err
		}
		res.PageCount = pages
		res.Excerpt = excerpt
	case TypeText:
		buf := make([]byte, min(size, 8<<10))
		n, err := r.ReadAt(buf, 0)
		if err != nil && !errors.Is(err, io.EOF) {
			return Result{}, fmt.Errorf("read text: %w", err)
		}
		buf = buf[:n]
		if int64(n) < size {
			// the buffer may end inside a multi-byte rune
			for i := 0; i < utf8.UTFMax-1 && !utf8.Valid(buf); i++ {
				buf = buf[:len(buf)-1]
			}
		}
		if !utf8.Valid(buf) {
			return Result{}, ErrCorruptFile
		}
		res.Excerpt = excerpt(string(buf))
	case TypeDOC, TypeDOCX:
		head := make([]byte, 8)
		n, _ := r.ReadAt(head, 0)
		if !looksLikeWord(contentType, head[:n]) {
			return Result{}, ErrCorruptFile
		}
	default:
		return Result{}, ErrUnsupportedType
	}
	return res, nil
}

func inspectPDF(r io.ReaderAt, size int64) (pages int, text string, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if rec := recover(); rec != nil {
			pages, text, err = 0, "", ErrCorruptFile
		}
	}()
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return 0, "", ErrCorruptFile
	}
	pages = reader.NumPage()
	if pages <= 0 {
		return 0, "", ErrCorruptFile
	}
	return pages, pdfExcerpt(reader, pages), nil
}

// pdfExcerpt collects leading page text. Extraction problems only cost the
// excerpt, never the upload.
func pdfExcerpt(reader *pdf.Reader, pages int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	var sb strings.Builder
	for i := 1; i <= pages && sb.Len() < maxExcerptRunes*4; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(pageText)
		sb.WriteByte(' ')
	}
	return excerpt(sb.String())
}

var (
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	zipMagic = []byte("PK\x03\x04")
)

func looksLikeWord(contentType string, head []byte) bool {
	if contentType == TypeDOC {
		return bytes.HasPrefix(head, oleMagic)
	}
	return bytes.HasPrefix(head, zipMagic)
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxExcerptRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxExcerptRunes]) + "..."
}
