package mock

import (
	"context"
	"sync"
	"time"

	"github.com/liqian5129/reading-comp/pkg/scanner"
)

// Page is one scripted capture result.
type Page struct {
	Text       string
	Similarity float64
	Err        error
}

// PageSource replays scripted captures; the last page repeats forever.
type PageSource struct {
	mu    sync.Mutex
	pages []Page
	next  int
}

func NewPageSource(pages ...Page) *PageSource {
	if len(pages) == 0 {
		pages = []Page{{Text: "mock page"}}
	}
	return &PageSource{pages: pages}
}

func (p *PageSource) Capture(ctx context.Context) (scanner.PageText, error) {
	p.mu.Lock()
	page := p.pages[p.next]
	if p.next < len(p.pages)-1 {
		p.next++
	}
	p.mu.Unlock()
	if page.Err != nil {
		return scanner.PageText{}, page.Err
	}
	return scanner.PageText{
		Text:       page.Text,
		Similarity: page.Similarity,
		CapturedAt: time.Now(),
	}, nil
}
