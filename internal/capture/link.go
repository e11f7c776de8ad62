package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// MaxTextChars is the default cap on extracted page text
const MaxTextChars = 10000

// Page is the readable content extracted from a fetched HTML document
type Page struct {
	URL         string
	Title       string
	Description string
	MainContent string
	BodyText    string
}

// Desc is the mark description for a link: title and meta description on two lines
func (p *Page) Desc() string {
	return p.Title + "\n" + p.Description
}

// Content prefers the main content container and falls back to body text
func (p *Page) Content() string {
	if p.MainContent != "" {
		return p.MainContent
	}
	return p.BodyText
}

// Fetcher retrieves pages for link marks
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
	MaxChars int
}

// NewFetcher creates a Fetcher with the given timeout and caps
func NewFetcher(timeout time.Duration, maxBytes int64, maxChars int) *Fetcher {
	if maxChars <= 0 {
		maxChars = MaxTextChars
	}
	return &Fetcher{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: maxBytes,
		MaxChars: maxChars,
	}
}

// NormalizeURL trims the input and prefixes https:// when no scheme is given
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL: missing host")
	}
	return u.String(), nil
}

// Fetch retrieves a URL and extracts its readable text
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, normalized, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "marks/1.0 (link capture)")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	var body io.Reader = resp.Body
	if f.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.MaxBytes)
	}

	page, err := ParsePage(body, f.MaxChars)
	if err != nil {
		return nil, err
	}
	page.URL = normalized
	return page, nil
}

// ParsePage extracts title, meta description, main content and body text
// from an HTML document. Text fields are cut at maxChars runes.
func ParsePage(r io.Reader, maxChars int) (*Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if maxChars <= 0 {
		maxChars = MaxTextChars
	}

	page := &Page{}
	var body *html.Node
	var containers [4]*html.Node // main, article, #content, .content

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if page.Title == "" {
					page.Title = strings.TrimSpace(textOf(n))
				}
			case "meta":
				name := strings.ToLower(attr(n, "name"))
				prop := strings.ToLower(attr(n, "property"))
				if page.Description == "" && (name == "description" || prop == "og:description") {
					page.Description = strings.TrimSpace(attr(n, "content"))
				}
			case "body":
				body = n
			case "main":
				if containers[0] == nil {
					containers[0] = n
				}
			case "article":
				if containers[1] == nil {
					containers[1] = n
				}
			}
			if containers[2] == nil && attr(n, "id") == "content" {
				containers[2] = n
			}
			if containers[3] == nil && hasClass(n, "content") {
				containers[3] = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, c := range containers {
		if c == nil {
			continue
		}
		if text := readableText(c); text != "" {
			page.MainContent = truncateRunes(text, maxChars)
			break
		}
	}
	if body != nil {
		page.BodyText = truncateRunes(readableText(body), maxChars)
	}

	if page.Title == "" && page.Content() == "" {
		return nil, fmt.Errorf("no text content found")
	}
	return page, nil
}

// Tags to skip (non-content)
var skipTags = map[string]bool{
	"script": true, "style": true, "nav": true,
	"header": true, "footer": true, "aside": true,
	"noscript": true, "iframe": true, "template": true,
}

// readableText returns the visible text below n with whitespace collapsed
func readableText(n *html.Node) string {
	var sb strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// truncateRunes cuts s to at most max runes
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
