package retriever

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
)

// Resource identifies a user-attached document the researcher may query.
type Resource struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Document is one indexed chunk of a resource.
type Document struct {
	ID      string
	URI     string
	Title   string
	Content string
}

// Hit is a single BM25 match.
type Hit struct {
	URI     string  `json:"uri"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// Index is an in-memory BM25 index over resource documents.
type Index struct {
	mu    sync.RWMutex
	bleve bleve.Index
	meta  map[string]Document
}

func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating bleve index: %w", err)
	}
	return &Index{bleve: idx, meta: map[string]Document{}}, nil
}

func (ix *Index) Add(doc Document) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.bleve.Index(doc.ID, doc); err != nil {
		return err
	}
	ix.meta[doc.ID] = doc
	return nil
}

// Query runs a BM25 search, optionally restricted to the given resource URIs.
func (ix *Index) Query(q string, k int, uris []string) ([]Hit, error) {
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	searchReq.Highlight = bleve.NewHighlightWithStyle("html")
	res, err := ix.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}

	allowed := map[string]bool{}
	for _, u := range uris {
		allowed[u] = true
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []Hit
	for _, hit := range res.Hits {
		doc := ix.meta[hit.ID]
		if len(allowed) > 0 && !allowed[doc.URI] {
			continue
		}
		out = append(out, Hit{
			URI: doc.URI, Title: doc.Title,
			Snippet: snippet(doc.Content),
			Score:   hit.Score, Rank: len(out) + 1,
		})
		if len(out) >= k {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 240 {
		return text[:240] + "..."
	}
	return text
}
