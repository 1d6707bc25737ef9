package tracking

import (
	"fmt"
	"html"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"
)

// Cache-busting random range, inclusive on both ends
const (
	cacheBustMin = 1000
	cacheBustMax = 9999999
)

// Link is a destination wrapped behind the click redirect
type Link struct {
	Label string
	URL   string
}

// Composer injects the tracking pixel and wrapped links into HTML bodies
type Composer struct {
	baseURL string
	links   []Link
	now     func() time.Time
	randInt func() int
}

// NewComposer creates a composer for the given public tracking base URL
func NewComposer(baseURL string, links []Link) *Composer {
	return &Composer{
		baseURL: strings.TrimRight(baseURL, "/"),
		links:   links,
		now:     time.Now,
		randInt: func() int {
			return cacheBustMin + rand.IntN(cacheBustMax-cacheBustMin+1)
		},
	}
}

// BaseURL returns the normalized tracking base URL
func (c *Composer) BaseURL() string {
	return c.baseURL
}

// cacheBust returns fresh query parameters that defeat client and proxy caches
func (c *Composer) cacheBust() string {
	return fmt.Sprintf("t=%d&r=%d", c.now().Unix(), c.randInt())
}

// PixelURL returns the open-tracking image URL for id
func (c *Composer) PixelURL(id ID) string {
	return c.pixelURL(id, c.cacheBust())
}

// WrapURL returns a click-tracking URL that redirects to dest
func (c *Composer) WrapURL(id ID, dest string) string {
	return c.wrapURL(id, c.cacheBust(), dest)
}

func (c *Composer) pixelURL(id ID, bust string) string {
	return fmt.Sprintf("%s/track/%s?%s", c.baseURL, url.PathEscape(id.String()), bust)
}

func (c *Composer) wrapURL(id ID, bust, dest string) string {
	return fmt.Sprintf("%s/link/%s?%s&redirect=%s", c.baseURL, url.PathEscape(id.String()), bust, url.QueryEscape(dest))
}

// Compose appends the hidden pixel and the tracked footer links to body.
// The pixel and all links of one call share a single set of cache-busting parameters.
func (c *Composer) Compose(body string, id ID) string {
	bust := c.cacheBust()

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "<img src='%s' width='1' height='1' alt='' style='display:none;'>\n",
		html.EscapeString(c.pixelURL(id, bust)))

	if len(c.links) > 0 {
		b.WriteString("\n<div style=\"margin-top: 20px; border-top: 1px solid #eee; padding-top: 10px;\">\n")
		b.WriteString("    <p style=\"font-size: 12px; color: #666;\">\n")
		for i, l := range c.links {
			sep := " | "
			if i == len(c.links)-1 {
				sep = ""
			}
			fmt.Fprintf(&b, "        <a href=\"%s\">%s</a>%s\n",
				html.EscapeString(c.wrapURL(id, bust, l.URL)), html.EscapeString(l.Label), sep)
		}
		b.WriteString("    </p>\n</div>\n")
	}

	return b.String()
}
