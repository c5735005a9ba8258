// Package resource tracks the GPU-side resources a content pipeline allocated
// so they can be released in one batch when the pipeline goes away.
package resource

import "fmt"

// ImageKey identifies an image uploaded to the renderer.
type ImageKey uint64

// FontKey identifies a font uploaded to the renderer.
type FontKey uint64

// FontInstanceKey identifies a sized instance of a font.
type FontInstanceKey uint64

// Kind discriminates the three resource key spaces.
type Kind int

// Resource kinds.
const (
	KindImage Kind = iota
	KindFont
	KindFontInstance
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindFont:
		return "font"
	case KindFontInstance:
		return "font-instance"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindImage, KindFont, KindFontInstance} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown resource kind %q", s)
}

// Cleanup lists the keys a renderer has to delete for a retired pipeline.
type Cleanup struct {
	Images        []ImageKey
	Fonts         []FontKey
	FontInstances []FontInstanceKey
}

// Empty reports whether there is nothing to delete.
func (c Cleanup) Empty() bool {
	return len(c.Images) == 0 && len(c.Fonts) == 0 && len(c.FontInstances) == 0
}

// Len returns the total number of keys.
func (c Cleanup) Len() int {
	return len(c.Images) + len(c.Fonts) + len(c.FontInstances)
}

// Ledger is the per-pipeline set of live resource keys.
// It is owned by the compositor goroutine and is not safe for concurrent use.
type Ledger struct {
	images        []ImageKey
	fonts         []FontKey
	fontInstances []FontInstanceKey
}

// TrackImage records an image allocation.
func (l *Ledger) TrackImage(k ImageKey) { l.images = append(l.images, k) }

// TrackFont records a font allocation.
func (l *Ledger) TrackFont(k FontKey) { l.fonts = append(l.fonts, k) }

// TrackFontInstance records a font instance allocation.
func (l *Ledger) TrackFontInstance(k FontInstanceKey) {
	l.fontInstances = append(l.fontInstances, k)
}

// UntrackImage forgets every occurrence of k. Unknown keys are a no-op.
func (l *Ledger) UntrackImage(k ImageKey) { l.images = removeAll(l.images, k) }

// UntrackFont forgets every occurrence of k.
func (l *Ledger) UntrackFont(k FontKey) { l.fonts = removeAll(l.fonts, k) }

// UntrackFontInstance forgets every occurrence of k.
func (l *Ledger) UntrackFontInstance(k FontInstanceKey) {
	l.fontInstances = removeAll(l.fontInstances, k)
}

// Track records a key of the given kind.
func (l *Ledger) Track(kind Kind, key uint64) error {
	switch kind {
	case KindImage:
		l.TrackImage(ImageKey(key))
	case KindFont:
		l.TrackFont(FontKey(key))
	case KindFontInstance:
		l.TrackFontInstance(FontInstanceKey(key))
	default:
		return fmt.Errorf("tracking %s %d: unknown resource kind", kind, key)
	}
	return nil
}

// Untrack forgets a key of the given kind.
func (l *Ledger) Untrack(kind Kind, key uint64) error {
	switch kind {
	case KindImage:
		l.UntrackImage(ImageKey(key))
	case KindFont:
		l.UntrackFont(FontKey(key))
	case KindFontInstance:
		l.UntrackFontInstance(FontInstanceKey(key))
	default:
		return fmt.Errorf("untracking %s %d: unknown resource kind", kind, key)
	}
	return nil
}

// Len returns the number of tracked keys across all kinds.
func (l *Ledger) Len() int {
	return len(l.images) + len(l.fonts) + len(l.fontInstances)
}

// Drain hands every tracked key to the caller and leaves the ledger empty.
func (l *Ledger) Drain() Cleanup {
	c := Cleanup{
		Images:        l.images,
		Fonts:         l.fonts,
		FontInstances: l.fontInstances,
	}
	l.images, l.fonts, l.fontInstances = nil, nil, nil
	return c
}

// Single returns a cleanup holding one key, used to release resources that
// arrive for a pipeline which no longer exists.
func Single(kind Kind, key uint64) Cleanup {
	var c Cleanup
	switch kind {
	case KindImage:
		c.Images = []ImageKey{ImageKey(key)}
	case KindFont:
		c.Fonts = []FontKey{FontKey(key)}
	case KindFontInstance:
		c.FontInstances = []FontInstanceKey{FontInstanceKey(key)}
	}
	return c
}

func removeAll[K comparable](keys []K, k K) []K {
	out := keys[:0]
	for _, key := range keys {
		if key != k {
			out = append(out, key)
		}
	}
	return out
}
