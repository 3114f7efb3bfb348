package cli

import (
	"bufio"
	"io"
	"strings"
)

// maxLineBytes bounds a single input line. It is larger than any text the
// gateway accepts so oversized lines reach the server and fail validation there.
const maxLineBytes = 1 << 20

// ReadTexts reads one text per line from r, skipping blank lines.
func ReadTexts(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var texts []string
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			texts = append(texts, line)
		}
	}
	return texts, sc.Err()
}
