package pipeline

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ngram-similarity/internal/corpus"
)

// Descriptor names one unit of work. Seq is the document's position in the
// input and doubles as its reference number in tries that track refs.
type Descriptor struct {
	ID   string
	Path string
	Seq  int
}

// Descriptors numbers paths in input order.
func Descriptors(paths []string) []Descriptor {
	descs := make([]Descriptor, 0, len(paths))
	for _, p := range paths {
		descs = append(descs, Descriptor{
			ID:   corpus.IDFromPath(p),
			Path: p,
			Seq:  len(descs),
		})
	}
	return descs
}

// ReadPaths reads one path per line, ignoring blank lines and lines starting
// with '#'.
func ReadPaths(r io.Reader) ([]string, error) {
	var paths []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading path list: %w", err)
	}
	return paths, nil
}
