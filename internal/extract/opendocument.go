package extract

import (
	"fmt"
	"regexp"

	"github.com/lu4p/cat"
)

const odfContentPath = "content.xml"

var (
	odfTextP    = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odfTextSpan = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)
	odfTextH    = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
)

func extractODF(kind string, content []byte, patterns ...*regexp.Regexp) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", kind, err)
	}
	data, err := readZipFile(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", kind, err)
	}
	var t textNodes
	t.collect(string(data), patterns...)
	return t.String(), nil
}

// extractODP returns paragraphs, then spans, then headings.
func extractODP(content []byte) (string, error) {
	return extractODF("ODP", content, odfTextP, odfTextSpan, odfTextH)
}

func extractODS(content []byte) (string, error) {
	return extractODF("ODS", content, odfTextP, odfTextSpan)
}

// extractCat handles .odt and .rtf, detecting the format from the content.
func extractCat(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract document: %w", err)
	}
	return text, nil
}
