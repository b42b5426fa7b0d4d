package cache

import (
	"bufio"
	"os"
	"strings"
)

// ParseDepFile reads a Makefile-style dependency file of the shape
// "<output>: <input>..." with backslash-newline continuations, as
// produced by `clang -MD -MV -MF <path>`, and returns the listed
// input paths (the output target itself is discarded).
//
// No repo in the retrieval pack ships a Makefile-dependency parser, so
// this is hand-rolled against bufio.Scanner rather than pulled from
// the corpus; grounded on the dep-file contract in the driver's own
// spec rather than on an example implementation.
func ParseDepFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var joined strings.Builder
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasSuffix(line, "\\") {
			joined.WriteString(strings.TrimSuffix(line, "\\"))
			joined.WriteByte(' ')
			continue
		}
		joined.WriteString(line)
		joined.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	var out []string
	for _, logicalLine := range strings.Split(joined.String(), "\n") {
		logicalLine = strings.TrimSpace(logicalLine)
		if logicalLine == "" {
			continue
		}
		colon := strings.Index(logicalLine, ":")
		if colon < 0 {
			continue
		}
		rest := logicalLine[colon+1:]
		for _, field := range strings.Fields(rest) {
			out = append(out, field)
		}
	}
	return out, nil
}
