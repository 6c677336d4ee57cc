package models

import (
	"fmt"
)

// Style is an art style appended to the user's prompt.
type Style string

const (
	StylePhotography Style = "Photography"
	StyleAnime       Style = "Anime"
	StylePaint       Style = "Paint"
	StylePixelArt    Style = "Pixel Art"
	StyleComicBook   Style = "Comic Book"
	StyleVintage     Style = "Vintage"
)

// Styles lists the selectable styles in display order.
var Styles = []Style{
	StylePhotography,
	StyleAnime,
	StylePaint,
	StylePixelArt,
	StyleComicBook,
	StyleVintage,
}

func ParseStyle(s string) (Style, bool) {
	for _, style := range Styles {
		if string(style) == s {
			return style, true
		}
	}
	return "", false
}

// KeySource selects which Replicate credential a request uses.
type KeySource string

const (
	KeyShared KeySource = "shared"
	KeyOwn    KeySource = "own"
)

type CounterRecord struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// UserCounters maps a session identifier to its counter record.
type UserCounters map[string]CounterRecord

type GenerationRequest struct {
	Prompt string `json:"prompt"`
	Style  Style  `json:"style"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ComposedPrompt is the prompt text actually sent to the model.
func (r GenerationRequest) ComposedPrompt() string {
	return fmt.Sprintf("%s, %s style", r.Prompt, r.Style)
}

type GalleryEntry struct {
	Image   string `json:"image"`
	Caption string `json:"caption"`
	Style   Style  `json:"style"`
}
