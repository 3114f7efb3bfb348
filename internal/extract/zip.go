package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var errEntryNotFound = errors.New("entry not found")

func openZip(content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip: %v", ErrMalformed, err)
	}
	return zr, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}

// readZipFile returns the named entry of zr.
func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return readZipEntry(f)
		}
	}
	return nil, fmt.Errorf("%s: %w", name, errEntryNotFound)
}

// textNodes appends the first submatch of every pattern, in pattern order,
// separated by single spaces.
type textNodes struct {
	b strings.Builder
}

func (t *textNodes) collect(s string, patterns ...*regexp.Regexp) {
	for _, re := range patterns {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			if t.b.Len() > 0 {
				t.b.WriteByte(' ')
			}
			t.b.WriteString(strings.TrimSpace(m[1]))
		}
	}
}

func (t *textNodes) String() string {
	return strings.TrimSpace(t.b.String())
}
