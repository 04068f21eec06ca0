package captureingest

import (
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// fallbackURL is used for relative link resolution; submitted captures
// carry no source URL.
var fallbackURL = &url.URL{Scheme: "https", Host: "capture.local"}

// Pre-compiled regexes to avoid runtime compilation per capture
var (
	scriptRe         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	excessiveLinesRe = regexp.MustCompile(`\n{4,}`)
)

// ConvertResult contains the result of HTML to markdown normalization.
type ConvertResult struct {
	Title    string
	Markdown string
}

// Converter normalizes HTML captures to markdown so downstream stages
// see uniform text regardless of the submitted content type.
type Converter struct {
	converter *md.Converter
}

// NewConverter creates an HTML to markdown converter.
func NewConverter() *Converter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &Converter{converter: converter}
}

// Convert transforms HTML content to markdown. The readability pass
// strips navigation and boilerplate; when it cannot find an article the
// raw HTML is converted after basic script/style removal.
func (c *Converter) Convert(htmlContent string) (*ConvertResult, error) {
	title := extractHTMLTitle(htmlContent)
	body := htmlContent

	article, err := readability.FromReader(strings.NewReader(htmlContent), fallbackURL)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		body = article.Content
		if title == "" {
			title = article.Title
		}
	} else {
		body = scriptRe.ReplaceAllString(body, "")
		body = styleRe.ReplaceAllString(body, "")
	}

	markdown, err := c.converter.ConvertString(body)
	if err != nil {
		return nil, err
	}
	markdown = cleanMarkdown(markdown)

	if title == "" {
		title = extractMarkdownTitle(markdown)
	}

	return &ConvertResult{Title: title, Markdown: markdown}, nil
}

// extractHTMLTitle extracts the <title> text from HTML.
func extractHTMLTitle(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return ""
	}

	var title string
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if title != "" {
				return
			}
			extract(c)
		}
	}
	extract(doc)
	return title
}

// cleanMarkdown collapses excessive blank lines and trims the result.
func cleanMarkdown(content string) string {
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n\n")
	return strings.TrimSpace(content)
}

// extractMarkdownTitle returns the first H1 text, if any.
func extractMarkdownTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}
