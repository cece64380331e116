package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileSource serves page text from a directory of .txt files in name
// order, one file per capture, repeating the last page once exhausted.
// It stands in for the camera+OCR rig during development and computes
// the same similarity score a real source would report.
type FileSource struct {
	mu    sync.Mutex
	pages []string
	next  int
	prev  string
}

func NewFileSource(dir string) (*FileSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no .txt pages in %s", dir)
	}
	sort.Strings(names)

	pages := make([]string, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		pages = append(pages, strings.TrimSpace(string(raw)))
	}
	return &FileSource{pages: pages}, nil
}

func (f *FileSource) Capture(ctx context.Context) (PageText, error) {
	if err := ctx.Err(); err != nil {
		return PageText{}, err
	}
	f.mu.Lock()
	text := f.pages[f.next]
	if f.next < len(f.pages)-1 {
		f.next++
	}
	sim := Similarity(f.prev, text)
	f.prev = text
	f.mu.Unlock()
	return PageText{Text: text, Similarity: sim}, nil
}

// Similarity scores two page texts in [0, 1] by Jaccard overlap of rune
// bigrams. 1.0 means the page has not turned; short texts fall back to
// exact comparison.
func Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	ba := bigrams(a)
	bb := bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	inter := 0
	for g := range ba {
		if bb[g] {
			inter++
		}
	}
	union := len(ba) + len(bb) - inter
	return float64(inter) / float64(union)
}

func bigrams(s string) map[string]bool {
	runes := []rune(s)
	out := make(map[string]bool, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])] = true
	}
	return out
}
