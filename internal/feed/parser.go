package feed

import (
	"fmt"
	"html"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"rssperso/internal/domain"
)

var stripPolicy = bluemonday.StrictPolicy()

// Result is the outcome of parsing one feed payload. A malformed payload
// never fails the call: Err is set, Title degrades to an error message and
// both link slices stay empty.
type Result struct {
	Title      string
	WebsiteURL string
	Logo       string
	AllLinks   []domain.Link
	Links      []domain.Link
	Err        error
}

type Parser struct {
	libParser *gofeed.Parser
	log       *slog.Logger
}

func NewParser(log *slog.Logger) *Parser {
	return &Parser{
		libParser: gofeed.NewParser(),
		log:       log,
	}
}

// ParseContent normalizes raw RSS/Atom XML into links. AllLinks holds every
// item; Links only those published strictly after clearDate. Both are
// stable-sorted by publication date, ties keeping document order.
func (p *Parser) ParseContent(
	content string,
	cfg domain.FeedConfig,
	clearDate time.Time,
	newestFirst bool,
) Result {
	res := Result{
		Title: strings.TrimSpace(cfg.Name),
		Logo:  strings.TrimSpace(cfg.Icon),
	}

	parsed, err := p.libParser.ParseString(content)
	if err != nil {
		name := res.Title
		if name == "" {
			name = cfg.URL
		}

		res.Err = fmt.Errorf("parse feed %q: %w", name, err)
		res.Title = fmt.Sprintf("%s: parsing failed", name)
		p.log.Warn("Failed to parse feed content",
			"error", err,
			"feedURL", cfg.URL)

		return res
	}

	switch parsed.FeedType {
	case "atom":
		p.collectAtomLinks(parsed, cfg, clearDate, &res)
	default:
		p.collectRSSLinks(parsed, cfg, clearDate, &res)
	}

	sortLinks(res.AllLinks, newestFirst)
	sortLinks(res.Links, newestFirst)

	if res.Title == "" {
		res.Title = strings.TrimSpace(parsed.Title)
	}
	if res.Title == "" {
		res.Title = cfg.URL
	}

	if res.Logo == "" && parsed.Image != nil {
		res.Logo = parsed.Image.URL
	}
	if res.Logo == "" && res.WebsiteURL != "" && res.WebsiteURL != "#" {
		res.Logo = res.WebsiteURL + "/favicon.ico"
	}

	return res
}

func (p *Parser) collectRSSLinks(
	parsed *gofeed.Feed,
	cfg domain.FeedConfig,
	clearDate time.Time,
	res *Result,
) {
	res.WebsiteURL = rewriteWebsiteURL(strings.TrimSpace(parsed.Link))

	for _, item := range parsed.Items {
		content := item.Description
		if content == "" {
			// content:encoded lands here.
			content = item.Content
		}

		pub := domain.FallbackRSSDate
		if item.PublishedParsed != nil {
			// gofeed already falls back from pubDate to dc:date.
			pub = *item.PublishedParsed
		} else {
			p.log.Warn("Feed item has no usable date",
				"feedURL", cfg.URL,
				"itemURL", item.Link)
		}

		link := domain.Link{
			URL:             rewriteLink(strings.TrimSpace(item.Link)),
			Title:           strings.TrimSpace(item.Title),
			PublicationDate: pub,
			Description:     stripHTML(content),
			Content:         content,
			Other:           firstCategory(item),
			FeedID:          cfg.ID,
			IconURL:         cfg.Icon,
			FeedName:        cfg.Name,
		}

		res.AllLinks = append(res.AllLinks, link)
		if link.PublicationDate.After(clearDate) {
			res.Links = append(res.Links, link)
		}
	}
}

func (p *Parser) collectAtomLinks(
	parsed *gofeed.Feed,
	cfg domain.FeedConfig,
	clearDate time.Time,
	res *Result,
) {
	res.WebsiteURL = rewriteWebsiteURL(strings.TrimSpace(parsed.Link))

	for _, item := range parsed.Items {
		itemURL := strings.TrimSpace(item.Link)
		if itemURL == "" {
			continue
		}

		content := item.Content
		if content == "" {
			content = mediaGroupContent(item)
		}
		if content == "" {
			// gofeed maps the atom summary to Description.
			content = item.Description
		}

		pub := time.Now()
		if item.PublishedParsed != nil {
			pub = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			pub = *item.UpdatedParsed
		}

		link := domain.Link{
			URL:             itemURL,
			Title:           strings.TrimSpace(item.Title),
			PublicationDate: pub,
			Description:     stripHTML(content),
			Content:         content,
			Other:           firstCategory(item),
			FeedID:          cfg.ID,
			IconURL:         cfg.Icon,
			FeedName:        cfg.Name,
		}

		res.AllLinks = append(res.AllLinks, link)
		if link.PublicationDate.After(clearDate) {
			res.Links = append(res.Links, link)
		}
	}
}

// mediaGroupContent composes an HTML preview from a media:group extension,
// the way YouTube feeds expose thumbnails and descriptions.
func mediaGroupContent(item *gofeed.Item) string {
	groups := item.Extensions["media"]["group"]
	if len(groups) == 0 {
		return ""
	}

	group := groups[0]

	var thumbURL, desc string
	if thumbs := group.Children["thumbnail"]; len(thumbs) > 0 {
		thumbURL = thumbs[0].Attrs["url"]
	}
	if descs := group.Children["description"]; len(descs) > 0 {
		desc = descs[0].Value
	}

	if thumbURL == "" && desc == "" {
		return ""
	}

	return fmt.Sprintf("<img src=%q /><br/>%s",
		thumbURL, strings.ReplaceAll(desc, "\n", "<br/>"))
}

func firstCategory(item *gofeed.Item) string {
	if len(item.Categories) == 0 {
		return ""
	}

	return strings.TrimSpace(item.Categories[0])
}

func stripHTML(content string) string {
	return strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(content)))
}

func sortLinks(links []domain.Link, newestFirst bool) {
	slices.SortStableFunc(links, func(a, b domain.Link) int {
		c := a.PublicationDate.Compare(b.PublicationDate)
		if newestFirst {
			return -c
		}

		return c
	})
}
