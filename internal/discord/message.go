package discord

import "time"

// Message is one channel message as returned by the history endpoint.
// Bot announcements arrive either as a classic embed or as a components tree;
// both carry the same information in different places.
type Message struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Author     Author         `json:"author"`
	Embeds     []Embed        `json:"embeds"`
	Components []ComponentRow `json:"components"`
}

type Author struct {
	ID string `json:"id"`
}

type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Fields      []EmbedField `json:"fields"`
	Footer      *EmbedFooter `json:"footer"`
}

type EmbedField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

type ComponentRow struct {
	Components []Component `json:"components"`
}

type Component struct {
	Content string `json:"content"`
}

// Content is the normalized view of a message body: whichever of the two wire
// shapes arrived, downstream parsing sees one record type.
type Content struct {
	Title  string
	Body   string
	Footer string
}

// Normalize extracts a Content from the message, preferring the embed shape.
// For embeds the body is the last field value when fields are present,
// otherwise the description. For component trees the first and third nested
// components carry title and body. Returns false when neither shape matches.
func (m *Message) Normalize() (Content, bool) {
	if len(m.Embeds) > 0 {
		e := m.Embeds[0]
		body := e.Description
		if len(e.Fields) > 0 {
			body = e.Fields[len(e.Fields)-1].Value
		}
		var footer string
		if e.Footer != nil {
			footer = e.Footer.Text
		}
		return Content{Title: e.Title, Body: body, Footer: footer}, true
	}
	if len(m.Components) > 0 {
		comps := m.Components[0].Components
		var c Content
		if len(comps) > 0 {
			c.Title = comps[0].Content
		}
		if len(comps) > 2 {
			c.Body = comps[2].Content
		}
		if c.Title == "" && c.Body == "" {
			return Content{}, false
		}
		return c, true
	}
	return Content{}, false
}

// Description returns the embed description, used for trade-offer parsing
// where the full multi-line body matters rather than the last field.
func (m *Message) Description() string {
	if len(m.Embeds) > 0 {
		return m.Embeds[0].Description
	}
	return ""
}
