// Package html implements the HTML extractor. Readability-based article
// extraction handles press releases and notices wrapped in site chrome; a
// tag-stripping fallback covers pages readability cannot parse.
package html

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"

	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// minTextLength is the minimum extracted length to accept. Pages shorter
// than this are likely cookie walls, login walls, or empty shells.
const minTextLength = 100

// Extractor handles HTML documents.
type Extractor struct{}

// New creates a new HTML extractor.
func New() *Extractor {
	return &Extractor{}
}

// SupportedContentTypes returns the content types this extractor handles.
func (e *Extractor) SupportedContentTypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

// Priority returns the selection priority.
func (e *Extractor) Priority() int {
	return 50 // Type-specific, above the plaintext fallback
}

// Extract produces normalized text, a title, section headings, and the
// detected publication date for an HTML artifact.
func (e *Extractor) Extract(_ context.Context, artifact *domain.RawArtifact) (*domain.Extraction, error) {
	if artifact == nil {
		return nil, domain.ErrInvalidInput
	}

	raw := string(artifact.Body)
	extraction := &domain.Extraction{
		Sections: extractHeadings(raw),
		Metadata: map[string]any{"extractor": "html"},
	}

	pageURL, _ := url.Parse(artifact.OriginURL)
	article, err := readability.FromReader(strings.NewReader(raw), pageURL)
	if err == nil && utf8.RuneCountInString(strings.TrimSpace(article.TextContent)) >= minTextLength {
		extraction.Title = strings.TrimSpace(article.Title)
		extraction.Text = normalizeWhitespace(article.TextContent)
		if article.PublishedTime != nil && !article.PublishedTime.IsZero() {
			extraction.PublishedAt = article.PublishedTime.UTC()
		}
		extraction.Metadata["method"] = "readability"
	} else {
		// Readability failed or found too little; strip the page whole.
		extraction.Title = extractTitle(raw)
		extraction.Text = stripHTML(raw)
		extraction.Metadata["method"] = "strip"
	}

	if extraction.PublishedAt.IsZero() {
		extraction.PublishedAt = sniffPublishedDate(raw)
	}

	if utf8.RuneCountInString(extraction.Text) < minTextLength {
		return nil, fmt.Errorf("extracted %d chars from %s: %w",
			utf8.RuneCountInString(extraction.Text), artifact.OriginURL, domain.ErrExtractionEmpty)
	}

	return extraction, nil
}

// Pre-compiled regular expressions for HTML parsing performance.
var (
	titleTag      = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	headingTag    = regexp.MustCompile(`(?is)<h([1-3])[^>]*>(.*?)</h[1-3]>`)
	metaDateTag   = regexp.MustCompile(`(?is)<meta[^>]+(?:property|name)\s*=\s*"(?:article:published_time|article:modified_time|date|dc\.date[^"]*|publishdate|publication_date)"[^>]+content\s*=\s*"([^"]+)"`)
	timeTag       = regexp.MustCompile(`(?is)<time[^>]+datetime\s*=\s*"([^"]+)"`)
	scriptTag     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptTag   = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	headTag       = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	svgTag        = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	htmlComments  = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockElements = regexp.MustCompile(`(?i)</?(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table|section|article)[^>]*>`)
	allTags       = regexp.MustCompile(`<[^>]+>`)
	multiSpaces   = regexp.MustCompile(`[ \t]+`)
)

// extractTitle extracts the <title> tag content.
func extractTitle(content string) string {
	matches := titleTag.FindStringSubmatch(content)
	if len(matches) > 1 {
		return strings.TrimSpace(html.UnescapeString(matches[1]))
	}
	return ""
}

// extractHeadings lists h1-h3 heading texts in document order.
func extractHeadings(content string) []string {
	var headings []string
	for _, match := range headingTag.FindAllStringSubmatch(content, -1) {
		text := strings.TrimSpace(html.UnescapeString(allTags.ReplaceAllString(match[2], " ")))
		text = strings.Join(strings.Fields(text), " ")
		if text != "" {
			headings = append(headings, text)
		}
	}
	return headings
}

// sniffPublishedDate looks for a publication date in meta tags, then in
// <time> elements.
func sniffPublishedDate(content string) time.Time {
	for _, pattern := range []*regexp.Regexp{metaDateTag, timeTag} {
		if matches := pattern.FindStringSubmatch(content); len(matches) > 1 {
			if parsed, err := dateparse.ParseAny(strings.TrimSpace(matches[1])); err == nil {
				return parsed.UTC()
			}
		}
	}
	return time.Time{}
}

// stripHTML removes markup and extracts readable text content.
func stripHTML(content string) string {
	content = scriptTag.ReplaceAllString(content, "")
	content = styleTag.ReplaceAllString(content, "")
	content = noscriptTag.ReplaceAllString(content, "")
	content = headTag.ReplaceAllString(content, "")
	content = svgTag.ReplaceAllString(content, "")
	content = htmlComments.ReplaceAllString(content, "")
	content = blockElements.ReplaceAllString(content, "\n")
	content = allTags.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	return normalizeWhitespace(content)
}

// normalizeWhitespace collapses runs of spaces and drops blank lines.
func normalizeWhitespace(content string) string {
	content = multiSpaces.ReplaceAllString(content, " ")
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
