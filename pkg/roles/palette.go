package roles

import "strings"

// Palette is an ordered set of distinct reaction glyphs.
type Palette []string

var defaultPalette = buildDefaultPalette()

func buildDefaultPalette() Palette {
	p := make(Palette, 0, 45)
	// Regional indicator symbols A-Z.
	for r := rune(0x1F1E6); r <= 0x1F1FF; r++ {
		p = append(p, string(r))
	}
	// Keycaps 0-9.
	for d := '0'; d <= '9'; d++ {
		p = append(p, string(d)+"\uFE0F\u20E3")
	}
	p = append(p, "🔴", "🟠", "🟡", "🟢", "🔵", "🟣", "🟤", "⚫", "⚪")
	return p
}

// DefaultPalette returns a copy of the built-in 45-glyph palette: letters
// A-Z, digits 0-9, then coloured circles.
func DefaultPalette() Palette {
	out := make(Palette, len(defaultPalette))
	copy(out, defaultPalette)
	return out
}

// Limit returns the first n glyphs. n <= 0 or n >= len(p) returns p unchanged.
func (p Palette) Limit(n int) Palette {
	if n <= 0 || n >= len(p) {
		return p
	}
	return p[:n]
}

// Allocate pairs each role id with the palette glyph at the same position.
// It is a pure function of ids: the same ordering always yields the same
// emojis. More ids than glyphs is a PaletteExhausted error.
func (p Palette) Allocate(ids []string) ([]string, error) {
	if len(ids) > len(p) {
		return nil, &Error{Kind: KindPaletteExhausted, Requested: len(ids), Available: len(p)}
	}
	out := make([]string, len(ids))
	copy(out, p[:len(ids)])
	return out, nil
}

// NormalizeEmoji strips variation selectors so the same glyph compares equal
// however the gateway renders it.
func NormalizeEmoji(s string) string {
	return strings.ReplaceAll(s, "\uFE0F", "")
}
