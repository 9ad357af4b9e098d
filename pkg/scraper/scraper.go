package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/pkg/corpus"
	"golang.org/x/time/rate"
)

type ScraperConfig struct {
	BaseURL           string
	MaxDepth          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Regions           []string
	Category          string
	Timeout           time.Duration
	MinContentLength  int
	Logger            *slog.Logger
	OnProgress        func(url string)
}

// Scraper crawls a game wiki from BaseURL and turns each page into a
// Document tagged with its category, title, section headers and region.
type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	baseHost string
	log      *slog.Logger
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if config.MinContentLength == 0 {
		config.MinContentLength = 100
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", config.BaseURL)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Scraper{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		visited:  make(map[string]bool),
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
		log:      logger,
	}, nil
}

// Load crawls from the configured base URL.
func (s *Scraper) Load(ctx context.Context) ([]models.Document, error) {
	return s.Scrape(ctx, s.config.BaseURL)
}

// Scrape crawls from start. Pages that fail are logged and skipped; only a
// failure on the start page or a cancelled context is returned.
func (s *Scraper) Scrape(ctx context.Context, start string) ([]models.Document, error) {
	var documents []models.Document
	if err := s.scrapeRecursive(ctx, start, 0, &documents); err != nil {
		return documents, err
	}
	sort.Slice(documents, func(i, j int) bool { return documents[i].ID < documents[j].ID })
	return documents, nil
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Host != s.baseHost {
		return false
	}

	ext := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if allowedExt == "" {
			if path.Ext(ext) == "" {
				validExt = true
				break
			}
			continue
		}
		if strings.HasSuffix(ext, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

func (s *Scraper) scrapeRecursive(ctx context.Context, urlStr string, depth int, documents *[]models.Document) error {
	urlStr = canonical(urlStr)
	if depth > s.config.MaxDepth || s.visited[urlStr] {
		return nil
	}
	if !s.shouldProcessURL(urlStr) {
		return nil
	}

	s.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	page, err := s.fetch(ctx, urlStr)
	if err != nil {
		return err
	}

	if doc, ok := s.extractDocument(page, urlStr, depth); ok {
		*documents = append(*documents, doc)
	} else {
		s.log.Debug("not enough content", "url", urlStr)
	}

	var links []string
	page.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			s.log.Debug("bad link", "href", href, "error", err)
			return
		}
		base, _ := url.Parse(urlStr)
		links = append(links, base.ResolveReference(ref).String())
	})

	for _, link := range links {
		if err := s.scrapeRecursive(ctx, link, depth+1, documents); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("error scraping url", "url", link, "error", err)
		}
	}
	return nil
}

func (s *Scraper) fetch(ctx context.Context, urlStr string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "gamescout/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

var contentSelectors = []string{
	"div#wiki-content",
	"div.wiki_content",
	"div#mw-content-text",
	"main",
	"article",
	"div.container",
	"#content",
}

func (s *Scraper) extractDocument(page *goquery.Document, urlStr string, depth int) (models.Document, bool) {
	section := page.Find("body")
	for _, selector := range contentSelectors {
		if selected := page.Find(selector).First(); selected.Length() > 0 {
			section = selected
			break
		}
	}

	var paragraphs []string
	total := 0
	section.Find("p, h1, h2, h3, h4, h5, table, ul, ol, dl").Each(func(_ int, el *goquery.Selection) {
		// nested lists and tables are reached through their parent
		if el.ParentsFiltered("table, ul, ol, dl").Length() > 0 {
			return
		}
		text := cleanText(el.Text())
		if len(text) > 15 {
			paragraphs = append(paragraphs, text)
			total += len(text)
		}
	})
	if total < s.config.MinContentLength {
		return models.Document{}, false
	}

	title := pageTitle(page, urlStr)
	content := strings.Join(paragraphs, "\n\n")

	var headers []string
	section.Find("h1, h2, h3").Each(func(_ int, h *goquery.Selection) {
		headers = append(headers, h.Text())
	})

	return models.Document{
		ID:      DocumentID(urlStr),
		URL:     urlStr,
		Title:   title,
		Content: content,
		Region:  corpus.DetectRegion(title, content, s.config.Regions),
		Tags:    tags(s.config.Category, title, headers),
		Metadata: map[string]interface{}{
			"depth": depth,
		},
		IngestedAt: time.Now().UTC(),
	}, true
}

func pageTitle(page *goquery.Document, urlStr string) string {
	title := strings.TrimSpace(page.Find("title").First().Text())
	if i := strings.Index(title, "|"); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	if title == "" {
		title = path.Base(strings.TrimSuffix(urlStr, "/"))
	}
	return title
}

var (
	whitespace = regexp.MustCompile(`\s+`)
	entity     = regexp.MustCompile(`&[a-zA-Z]+;`)
	bareURL    = regexp.MustCompile(`https?://\S+`)
	nonWord    = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
)

func cleanText(text string) string {
	text = whitespace.ReplaceAllString(text, " ")
	text = entity.ReplaceAllString(text, " ")
	text = bareURL.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}

// tags are the category, the title and every short section header, lowercased
// with punctuation removed.
func tags(category, title string, headers []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(nonWord.ReplaceAllString(s, "")))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	add(category)
	add(title)
	for _, h := range headers {
		if h = strings.TrimSpace(h); len(h) < 30 {
			add(h)
		}
	}
	return out
}

// DocumentID derives a stable id from a page URL: host and path with
// separators replaced.
func DocumentID(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}
	p := strings.Trim(u.Path, "/")
	if p == "" {
		p = "index"
	}
	return u.Host + "_" + strings.ReplaceAll(p, "/", "_")
}

func canonical(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}
	u.Fragment = ""
	return u.String()
}
