package docinspect

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// minimalPDF renders a PDF with the given number of blank pages and a valid
// cross-reference table.
func minimalPDF(pages int) []byte {
	var objs []string
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestInspectPDFCountsPages(t *testing.T) {
	data := minimalPDF(3)
	res, err := Inspect(bytes.NewReader(data), int64(len(data)), TypePDF)
	if err != nil {
		t.Fatalf("inspect pdf: %v", err)
	}
	if res.PageCount != 3 || res.ContentType != TypePDF {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestInspectRejectsCorruptPDF(t *testing.T) {
	data := []byte("%PDF-1.4\nthis is not a real pdf")
	if _, err := Inspect(bytes.NewReader(data), int64(len(data)), TypePDF); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("expected ErrCorruptFile, got %v", err)
	}
}

func TestInspectTextExcerpt(t *testing.T) {
	body := "Bismillah.\n\n  The  book of   fasting " + strings.Repeat("ص", 700)
	res, err := Inspect(strings.NewReader(body), int64(len(body)), TypeText)
	if err != nil {
		t.Fatalf("inspect text: %v", err)
	}
	if !strings.HasPrefix(res.Excerpt, "Bismillah. The book of fasting ") {
		t.Fatalf("excerpt not normalised: %q", res.Excerpt[:40])
	}
	if !strings.HasSuffix(res.Excerpt, "...") {
		t.Fatalf("long excerpt should be truncated")
	}
}

func TestInspectTextToleratesSplitRuneAtBufferEdge(t *testing.T) {
	// 8191 ASCII bytes followed by a two-byte rune straddles the read buffer.
	body := strings.Repeat("a", 8<<10-1) + "ص" + "tail"
	if _, err := Inspect(strings.NewReader(body), int64(len(body)), TypeText); err != nil {
		t.Fatalf("inspect text: %v", err)
	}
}

func TestInspectRejectsBinaryText(t *testing.T) {
	body := []byte{0xff, 0xfe, 0x00, 0x41}
	if _, err := Inspect(bytes.NewReader(body), int64(len(body)), TypeText); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("expected ErrCorruptFile, got %v", err)
	}
}

func TestInspectWordMagic(t *testing.T) {
	docx := append([]byte("PK\x03\x04"), make([]byte, 32)...)
	if _, err := Inspect(bytes.NewReader(docx), int64(len(docx)), TypeDOCX); err != nil {
		t.Fatalf("docx: %v", err)
	}
	if _, err := Inspect(bytes.NewReader(docx), int64(len(docx)), TypeDOC); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("zip bytes declared as .doc should be rejected, got %v", err)
	}
	doc := append(append([]byte{}, oleMagic...), make([]byte, 32)...)
	if _, err := Inspect(bytes.NewReader(doc), int64(len(doc)), TypeDOC); err != nil {
		t.Fatalf("doc: %v", err)
	}
}

func TestInspectSizeLimits(t *testing.T) {
	if _, err := Inspect(strings.NewReader(""), 0, TypeText); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
	if _, err := Inspect(strings.NewReader("x"), MaxUploadBytes+1, TypeText); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, err := Inspect(strings.NewReader("x"), 1, "image/png"); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestResolveType(t *testing.T) {
	tests := []struct {
		filename string
		declared string
		want     string
		wantErr  bool
	}{
		{filename: "a.pdf", declared: "application/pdf", want: TypePDF},
		{filename: "notes", declared: "text/plain; charset=utf-8", want: TypeText},
		{filename: "fiqh.docx", declared: "application/octet-stream", want: TypeDOCX},
		{filename: "fiqh.DOC", declared: "", want: TypeDOC},
		{filename: "pic.png", declared: "image/png", wantErr: true},
		{filename: "pic.png", declared: "application/octet-stream", wantErr: true},
		{filename: "script.pdf", declared: "text/html", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ResolveType(tc.filename, tc.declared)
		if tc.wantErr {
			if !errors.Is(err, ErrUnsupportedType) {
				t.Fatalf("ResolveType(%q, %q) err = %v, want ErrUnsupportedType", tc.filename, tc.declared, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ResolveType(%q, %q) = %q, %v; want %q", tc.filename, tc.declared, got, err, tc.want)
		}
	}
}
