package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/mohammad-safakhou/researchflow/config"
)

// Article is the cleaned result of crawling a single URL.
type Article struct {
	URL   string
	Title string
	Text  string
}

// Fetcher renders a page and extracts readable article text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Article, error)
}

// ChromedpFetcher drives a headless browser so JS-rendered pages work too.
type ChromedpFetcher struct {
	Timeout  time.Duration
	MaxChars int

	policy *bluemonday.Policy
}

func NewChromedpFetcher(cfg config.CrawlerConfig) *ChromedpFetcher {
	timeout := cfg.RenderTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	maxChars := cfg.MaxBodyChars
	if maxChars <= 0 {
		maxChars = 20000
	}
	return &ChromedpFetcher{
		Timeout:  timeout,
		MaxChars: maxChars,
		policy:   bluemonday.StrictPolicy(),
	}
}

func (f *ChromedpFetcher) Fetch(ctx context.Context, rawURL string) (Article, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Article{}, errors.New("invalid url")
	}
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	html, err := fetchHTML(ctx, rawURL)
	if err != nil {
		return Article{}, fmt.Errorf("rendering %s: %w", rawURL, err)
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(rawURL))
	if err != nil {
		return Article{}, fmt.Errorf("extracting article from %s: %w", rawURL, err)
	}
	text := f.policy.Sanitize(article.TextContent)
	text = strings.TrimSpace(text)
	if len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}
	return Article{
		URL:   rawURL,
		Title: strings.TrimSpace(article.Title),
		Text:  text,
	}, nil
}

func fetchHTML(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("ResearchFlow/1.0"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
