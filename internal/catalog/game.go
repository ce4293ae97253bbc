package catalog

import (
	"encoding/json"
)

// Game is one entry of the authenticated user's catalog.
//
// The typed fields cover what the mirror needs for planning. The complete
// object returned by the API is retained so metadata files carry every field.
type Game struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	ShortText     string  `json:"short_text"`
	Published     bool    `json:"published"`
	PublishedAt   *string `json:"published_at"`
	URL           string  `json:"url"`
	CoverURL      string  `json:"cover_url"`
	StillCoverURL string  `json:"still_cover_url"`

	raw json.RawMessage
}

type gameFields Game

// UnmarshalJSON decodes the known fields and keeps the original document.
func (g *Game) UnmarshalJSON(data []byte) error {
	var f gameFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*g = Game(f)
	g.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the document as received from the API, or the typed
// fields for games built in code.
func (g Game) MarshalJSON() ([]byte, error) {
	if len(g.raw) > 0 {
		return g.raw, nil
	}
	return json.Marshal(gameFields(g))
}

// Raw returns the original API document, nil for games built in code.
func (g Game) Raw() json.RawMessage {
	return g.raw
}

// PublishedAtKey is the value games are ordered by in the aggregate metadata.
// Unpublished games have no timestamp and sort last.
func (g Game) PublishedAtKey() string {
	if g.PublishedAt == nil {
		return ""
	}
	return *g.PublishedAt
}

// ThumbnailURL is the still cover when present, the cover otherwise.
func (g Game) ThumbnailURL() string {
	if g.StillCoverURL != "" {
		return g.StillCoverURL
	}
	return g.CoverURL
}

// Filter narrows a fetched catalog.
type Filter struct {
	PublishedOnly bool
}

// Apply returns the games matching f, preserving order.
func (f Filter) Apply(games []Game) []Game {
	if !f.PublishedOnly {
		return games
	}
	return FilterPublished(games)
}

// FilterPublished drops unpublished games, preserving order.
func FilterPublished(games []Game) []Game {
	out := make([]Game, 0, len(games))
	for _, g := range games {
		if g.Published {
			out = append(out, g)
		}
	}
	return out
}
