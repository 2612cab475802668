package server

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Metadata is a link preview resolved from og: and twitter: meta tags
type Metadata struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image"`
	Url         string `json:"url"`
	Site        string `json:"site,omitempty"`
}

// GetMetadata fetches a page and extracts its social card. Returns nil
// unless enough of a card exists to render a preview.
func GetMetadata(uri string) *Metadata {
	u, err := url.Parse(uri)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil
	}

	d, err := goquery.NewDocument(u.String())
	if err != nil {
		return nil
	}

	g := &Metadata{Type: "message_meta"}

	d.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		prop, ok := sel.Attr("property")
		if !ok {
			prop, ok = sel.Attr("name")
		}
		content, cok := sel.Attr("content")
		if !ok || !cok {
			return
		}

		p := strings.Split(prop, ":")
		if len(p) < 2 || (p[0] != "og" && p[0] != "twitter") {
			return
		}

		switch p[1] {
		case "site_name", "site":
			if g.Site == "" {
				g.Site = content
			}
		case "title":
			g.Title = content
		case "description":
			g.Description = content
		case "url":
			g.Url = content
		case "image":
			if g.Image == "" {
				g.Image = content
			}
		}
	})

	if g.Title == "" || g.Image == "" {
		return nil
	}
	if g.Url == "" {
		g.Url = u.String()
	}

	return g
}

// unfurl resolves a preview for the first link in a message and pushes
// it to local sessions as a follow-up frame. Best effort, silent on
// failure, never crosses instances.
func (s *Server) unfurl(id, text string) {
	for _, part := range strings.Fields(text) {
		if !strings.HasPrefix(part, "http://") && !strings.HasPrefix(part, "https://") {
			continue
		}

		g := GetMetadata(part)
		if g == nil {
			return
		}

		g.ID = id
		if b, err := json.Marshal(g); err == nil {
			s.broadcast(b)
		}
		return
	}
}
