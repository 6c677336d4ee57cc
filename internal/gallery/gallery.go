package gallery

import (
	"icarus/internal/models"
	"strconv"
)

// ImageBase is the URL prefix the example images are served under.
const ImageBase = "/static/images/"

var entries = []models.GalleryEntry{
	{Style: models.StylePhotography, Caption: "A beautiful sunset over the ocean (Photography)"},
	{Style: models.StyleAnime, Caption: "A weary office worker slumped at their desk, surrounded by piles of paperwork. (Anime)"},
	{Style: models.StylePaint, Caption: "A charming dog preparing a delicious meal for his friends. (Paint)"},
	{Style: models.StylePixelArt, Caption: "A fierce blond Viking warrior wielding a mighty axe, standing on a rugged landscape with a stormy sky. (Pixel Art)"},
	{Style: models.StyleComicBook, Caption: "A superhero wearing a cape striking a powerful pose as he flies through a futuristic cityscape at night. (Comic Book)"},
	{Style: models.StyleVintage, Caption: "A London gangster from the 1980s, casually posing in front of a classic car. (Vintage)"},
}

func init() {
	for i := range entries {
		entries[i].Image = ImageBase + "Icarus_image_" + string(entries[i].Style) + ".png"
	}
}

// Entries returns a copy of the example images in display order.
func Entries() []models.GalleryEntry {
	out := make([]models.GalleryEntry, len(entries))
	copy(out, entries)
	return out
}

// Select parses a picker index, falling back to the first entry when the
// value is missing or out of range.
func Select(raw string) (models.GalleryEntry, int) {
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 0 || idx >= len(entries) {
		idx = 0
	}
	return entries[idx], idx
}
