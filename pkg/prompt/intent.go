package prompt

import (
	"strings"
	"unicode"

	"lumosai/pkg/domain"
)

// DefaultIntentVerbs and DefaultIntentNouns are the built-in image request
// vocabulary (English and Portuguese).
var (
	DefaultIntentVerbs = []string{
		"generate", "create", "draw", "make", "design", "render", "paint", "sketch",
		"illustrate", "produce", "gere", "crie", "desenhe", "faça",
	}
	DefaultIntentNouns = []string{
		"image", "picture", "photo", "illustration", "drawing", "logo", "icon", "art",
		"poster", "banner", "wallpaper", "imagem", "foto", "desenho", "ilustração",
	}
)

const defaultLookback = 4

// IntentDetector is a best-effort heuristic that decides whether a turn asks
// for image generation. It may misfire on either side.
type IntentDetector struct {
	verbs    map[string]struct{}
	nouns    map[string]struct{}
	lookback int
}

// NewIntentDetector builds a detector. Empty lists fall back to the defaults.
func NewIntentDetector(verbs, nouns []string, lookback int) *IntentDetector {
	if len(verbs) == 0 {
		verbs = DefaultIntentVerbs
	}
	if len(nouns) == 0 {
		nouns = DefaultIntentNouns
	}
	if lookback <= 0 {
		lookback = defaultLookback
	}
	return &IntentDetector{verbs: wordSet(verbs), nouns: wordSet(nouns), lookback: lookback}
}

// WantsImage reports whether text, read with the recent history and the
// attachments, is an image generation request.
func (d *IntentDetector) WantsImage(text string, history []domain.CachedMessage, attachments []domain.Attachment) bool {
	if len(Partition(attachments).Images) > 0 {
		return true
	}
	words := tokenize(text)
	if !d.contains(words, d.verbs) {
		return false
	}
	if d.contains(words, d.nouns) {
		return true
	}
	start := len(history) - d.lookback
	if start < 0 {
		start = 0
	}
	for _, msg := range history[start:] {
		if d.contains(tokenize(msg.Content), d.nouns) {
			return true
		}
	}
	return false
}

func (d *IntentDetector) contains(words []string, set map[string]struct{}) bool {
	for _, w := range words {
		if _, ok := set[w]; ok {
			return true
		}
		if trimmed := strings.TrimSuffix(w, "s"); trimmed != w {
			if _, ok := set[trimmed]; ok {
				return true
			}
		}
	}
	return false
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
