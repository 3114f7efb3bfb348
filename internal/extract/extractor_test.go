package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

// zipOf builds an in-memory zip with the given entries, written in order.
func zipOf(t *testing.T, entries ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		fw, err := w.Create(e[0])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(e[1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func wordDoc(text string) string {
	return `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` +
		text + `</w:t></w:r></w:p></w:body></w:document>`
}

func slide(text string) string {
	return `<p:sld><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func contentTypes(override string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` + override + `</Types>`
}

const docxMainType = `application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml`

func workbook(t *testing.T, build func(f *excelize.File)) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	build(f)
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return buf.Bytes()
}

func TestExtractBytes_formats(t *testing.T) {
	tests := []struct {
		name    string
		ext     string
		content func(t *testing.T) []byte
		want    string
	}{
		{"plain", ".txt", func(*testing.T) []byte { return []byte("Hello world\nLine 2") }, "Hello world\nLine 2"},
		{"plain utf8", ".md", func(*testing.T) []byte { return []byte("caf\xc3\xa9") }, "café"},
		{"plain invalid utf8", ".rst", func(*testing.T) []byte { return []byte("hello\x80world") }, "hello�world"},
		{"plain bom and line endings", ".txt", func(*testing.T) []byte { return []byte("\xEF\xBB\xBFone\r\ntwo\rthree\n") }, "one\ntwo\nthree\n"},
		{"xlsx single sheet", ".xlsx", func(t *testing.T) []byte {
			return workbook(t, func(f *excelize.File) {
				f.SetCellValue("Sheet1", "A1", "Title")
				f.SetCellValue("Sheet1", "A2", "Value 1")
				f.SetCellValue("Sheet1", "B2", "Value 2")
			})
		}, "Title\nValue 1\tValue 2"},
		{"xlsx sheets and blank rows", ".xlsx", func(t *testing.T) []byte {
			return workbook(t, func(f *excelize.File) {
				f.SetCellValue("Sheet1", "A1", "first")
				f.SetCellValue("Sheet1", "A3", "third")
				f.SetCellValue("Sheet1", "B3", "")
				_, _ = f.NewSheet("Data")
				f.SetCellValue("Data", "A1", "x")
				f.SetCellValue("Data", "B1", "y")
				_, _ = f.NewSheet("Empty")
			})
		}, "[Sheet1]\nfirst\nthird\n\n[Data]\nx\ty"},
		{"docx", ".docx", func(t *testing.T) []byte {
			return zipOf(t, [2]string{"word/document.xml", wordDoc("Docx body")})
		}, "Docx body"},
		{"docx main part from content types", ".docx", func(t *testing.T) []byte {
			return zipOf(t,
				[2]string{"[Content_Types].xml", contentTypes(`<Override PartName="/word/document2.xml" ContentType="` + docxMainType + `"/>`)},
				[2]string{"word/document2.xml", wordDoc("From document2")})
		}, "From document2"},
		{"docx content type before part name", ".docx", func(t *testing.T) []byte {
			return zipOf(t,
				[2]string{"[Content_Types].xml", contentTypes(`<Override ContentType="` + docxMainType + `" PartName="/word/document3.xml"/>`)},
				[2]string{"word/document3.xml", wordDoc("Reversed attributes")})
		}, "Reversed attributes"},
		{"pptx", ".pptx", func(t *testing.T) []byte {
			return zipOf(t, [2]string{"ppt/slides/slide1.xml", slide("One slide")})
		}, "One slide"},
		{"pptx slides in order", ".pptx", func(t *testing.T) []byte {
			return zipOf(t,
				[2]string{"ppt/slides/slide1.xml", slide("First slide")},
				[2]string{"ppt/slides/slide2.xml", slide("Second slide")})
		}, "First slide Second slide"},
		{"pptx without slides", ".pptx", func(t *testing.T) []byte {
			return zipOf(t, [2]string{"ppt/slides/other.xml", ""}, [2]string{"docProps/core.xml", ""})
		}, ""},
		{"odp", ".odp", func(t *testing.T) []byte {
			return zipOf(t, [2]string{"content.xml", `<office:document><office:body><draw:page><draw:text-box><text:p>Odp body</text:p></draw:text-box></draw:page></office:body></office:document>`})
		}, "Odp body"},
		{"odp headings after paragraphs", ".odp", func(t *testing.T) []byte {
			return zipOf(t, [2]string{"content.xml", `<office:document><office:body><draw:page><text:h>Slide title</text:h><text:p>Body text</text:p></draw:page></office:body></office:document>`})
		}, "Body text Slide title"},
		{"ods cells", ".ods", func(t *testing.T) []byte {
			return zipOf(t, [2]string{"content.xml", `<office:document><office:body><table:table><table:table-row><table:table-cell><text:p>Cell A</text:p></table:table-cell><table:table-cell><text:span>Cell B</text:span></table:table-cell></table:table-row></table:table></office:body></office:document>`})
		}, "Cell A Cell B"},
	}
	e := NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ExtractBytes(tt.content(t), tt.ext)
			if err != nil {
				t.Fatalf("ExtractBytes(%s): %v", tt.ext, err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractBytes_errors(t *testing.T) {
	tests := []struct {
		name    string
		ext     string
		content func(t *testing.T) []byte
		want    error
	}{
		{"unknown extension", ".xyz", func(*testing.T) []byte { return []byte("raw") }, ErrUnsupported},
		{"pdf garbage", ".pdf", func(*testing.T) []byte { return []byte("not a pdf at all") }, ErrMalformed},
		{"pdf truncated", ".pdf", func(*testing.T) []byte { return []byte("%PDF-1.4\n1 0 obj\n<<") }, ErrMalformed},
		{"xlsx garbage", ".xlsx", func(*testing.T) []byte { return []byte("not a workbook") }, ErrMalformed},
		{"docx not zip", ".docx", func(*testing.T) []byte { return []byte("not a zip") }, ErrMalformed},
		{"pptx not zip", ".pptx", func(*testing.T) []byte { return []byte("not a zip") }, ErrMalformed},
		{"docx missing main part", ".docx", func(t *testing.T) []byte {
			return zipOf(t, [2]string{"word/styles.xml", ""})
		}, nil},
		{"odp missing content", ".odp", func(t *testing.T) []byte { return zipOf(t, [2]string{"other.xml", ""}) }, nil},
		{"ods missing content", ".ods", func(t *testing.T) []byte { return zipOf(t, [2]string{"other.xml", ""}) }, nil},
	}
	e := NewExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ExtractBytes(tt.content(t), tt.ext)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExtract_files(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"notes.txt": []byte("File content"),
		"deck.pptx": zipOf(t, [2]string{"ppt/slides/slide1.xml", slide("From file")}),
		"pres.odp":  zipOf(t, [2]string{"content.xml", `<office:document><office:body><draw:page><text:p>From file</text:p></draw:page></office:body></office:document>`}),
		"sheet.ods": zipOf(t, [2]string{"content.xml", `<table:table-cell><text:p>From file</text:p></table:table-cell>`}),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0600); err != nil {
			t.Fatal(err)
		}
	}
	xlsxPath := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "From file")
	if err := f.SaveAs(xlsxPath); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	want := map[string]string{
		"notes.txt": "File content",
		"deck.pptx": "From file",
		"pres.odp":  "From file",
		"sheet.ods": "From file",
		"data.xlsx": "From file",
	}
	e := NewExtractor()
	for name, w := range want {
		got, err := e.Extract(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("Extract(%s): %v", name, err)
			continue
		}
		if got != w {
			t.Errorf("Extract(%s) = %q, want %q", name, got, w)
		}
	}
}

func TestExtract_missingAndUnsupported(t *testing.T) {
	e := NewExtractor()
	if _, err := e.Extract("/nonexistent/path/file.txt"); err == nil {
		t.Error("expected error for nonexistent file")
	}
	if _, err := e.Extract("/nonexistent/archive.tar"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("got %v, want ErrUnsupported before the file is read", err)
	}
}

func TestExtract_maxFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	if err := os.WriteFile(path, bytes.Repeat([]byte("a"), 64), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewExtractor(WithMaxFileSize(32)).Extract(path); !errors.Is(err, ErrTooLarge) {
		t.Errorf("got %v, want ErrTooLarge", err)
	}
	got, err := NewExtractor(WithMaxFileSize(64)).Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got) != 64 {
		t.Errorf("got %d bytes", len(got))
	}
}

func TestSupports(t *testing.T) {
	for _, ext := range []string{".txt", ".MD", ".pdf", ".docx", ".odt", ".rtf", ".xlsx"} {
		if !Supports(ext) {
			t.Errorf("%s should be supported", ext)
		}
	}
	if Supports(".exe") || Supports("") {
		t.Error("unexpected support for .exe or empty extension")
	}
	exts := Extensions()
	if len(exts) != len(formats) {
		t.Fatalf("Extensions: got %d, want %d", len(exts), len(formats))
	}
	for i := 1; i < len(exts); i++ {
		if exts[i-1] > exts[i] {
			t.Errorf("Extensions not sorted: %v", exts)
			break
		}
	}
}
