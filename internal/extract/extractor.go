// Package extract turns raw HTML into the plain text and representative
// image the enrichment pipeline works with.
package extract

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Content is the distilled result of one page.
type Content struct {
	// Text is the visible page text, whitespace-collapsed.
	Text string
	// Title is the <title> element's text, if any.
	Title string
	// ImageURL is the representative image resolved to absolute form, or
	// empty when the page carries none.
	ImageURL string
}

// skippedElements are removed before text extraction; they never contain
// artifact prose.
var skippedElements = map[string]bool{
	"script": true,
	"style":  true,
	"nav":    true,
	"footer": true,
}

// Extract parses HTML and returns its visible text plus a representative
// image. Image resolution order: og:image meta tag, then the first inline
// image whose source does not look like an icon, resolved against baseURL.
// A page that cannot be parsed yields zero-value Content.
func Extract(htmlSrc, baseURL string) Content {
	doc, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return Content{}
	}

	var (
		words     []string
		title     string
		ogImage   string
		firstImg  string
		base, _   = url.Parse(baseURL)
		walk      func(n *html.Node)
		inSkipped int
	)

	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				if ogImage == "" && attr(n, "property") == "og:image" {
					ogImage = strings.TrimSpace(attr(n, "content"))
				}
			case "img":
				// Images inside stripped chrome (nav logos, footer
				// badges) are not artifact imagery.
				src := strings.TrimSpace(attr(n, "src"))
				if inSkipped == 0 && firstImg == "" && src != "" && !strings.Contains(strings.ToLower(src), "icon") {
					firstImg = src
				}
			case "title":
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			}
			if skippedElements[n.Data] {
				inSkipped++
				defer func() { inSkipped-- }()
			}
		}
		if n.Type == html.TextNode && inSkipped == 0 {
			words = append(words, strings.Fields(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	image := ogImage
	if image == "" {
		image = firstImg
	}
	return Content{
		Text:     strings.Join(words, " "),
		Title:    title,
		ImageURL: resolveImage(base, image),
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func resolveImage(base *url.URL, image string) string {
	if image == "" {
		return ""
	}
	parsed, err := url.Parse(image)
	if err != nil {
		return ""
	}
	if parsed.IsAbs() || base == nil {
		return image
	}
	return base.ResolveReference(parsed).String()
}
