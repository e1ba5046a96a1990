package executor

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// FeedItem is one entry of an RSS or Atom feed.
type FeedItem struct {
	Title     string
	Link      string
	Published string
}

type rssDocument struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title   string `xml:"title"`
			Link    string `xml:"link"`
			PubDate string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

type atomDocument struct {
	XMLName xml.Name `xml:"feed"`
	Title   string   `xml:"title"`
	Entries []struct {
		Title string `xml:"title"`
		Links []struct {
			Href string `xml:"href,attr"`
			Rel  string `xml:"rel,attr"`
		} `xml:"link"`
		Updated   string `xml:"updated"`
		Published string `xml:"published"`
	} `xml:"entry"`
}

// ParseFeed decodes an RSS 2.0 or Atom document and returns its title and
// at most maxItems items.
func ParseFeed(data []byte, maxItems int) (string, []FeedItem, error) {
	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(data, &probe); err != nil {
		return "", nil, fmt.Errorf("%w: parsing feed: %w", ErrUpstream, err)
	}

	var (
		title string
		items []FeedItem
	)
	switch probe.XMLName.Local {
	case "rss":
		var doc rssDocument
		if err := xml.Unmarshal(data, &doc); err != nil {
			return "", nil, fmt.Errorf("%w: parsing rss: %w", ErrUpstream, err)
		}
		title = doc.Channel.Title
		for _, it := range doc.Channel.Items {
			items = append(items, FeedItem{Title: it.Title, Link: it.Link, Published: it.PubDate})
		}
	case "feed":
		var doc atomDocument
		if err := xml.Unmarshal(data, &doc); err != nil {
			return "", nil, fmt.Errorf("%w: parsing atom: %w", ErrUpstream, err)
		}
		title = doc.Title
		for _, e := range doc.Entries {
			item := FeedItem{Title: e.Title, Published: e.Published}
			if item.Published == "" {
				item.Published = e.Updated
			}
			for _, l := range e.Links {
				if l.Rel == "" || l.Rel == "alternate" {
					item.Link = l.Href
					break
				}
			}
			items = append(items, item)
		}
	default:
		return "", nil, fmt.Errorf("%w: unsupported feed root <%s>", ErrUpstream, probe.XMLName.Local)
	}

	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return strings.TrimSpace(title), items, nil
}

// FormatFeed renders a feed as plain text, one item per line.
func FormatFeed(title string, items []FeedItem) string {
	var b strings.Builder
	if title != "" {
		b.WriteString(title)
		b.WriteByte('\n')
	}
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(it.Title))
		if it.Link != "" {
			b.WriteString(" <")
			b.WriteString(strings.TrimSpace(it.Link))
			b.WriteString(">")
		}
		if it.Published != "" {
			b.WriteString(" (")
			b.WriteString(strings.TrimSpace(it.Published))
			b.WriteString(")")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
