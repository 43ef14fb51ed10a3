// Package share builds the external intent URLs used to publish a post.
package share

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ibeckermayer/modsync/internal/types"
)

const (
	intentBase   = "https://x.com/intent/tweet"
	fallbackBase = "https://twitter.com/intent/tweet"
)

// IntentURL is the compose link for text
func IntentURL(text string) string {
	return intentBase + "?text=" + url.QueryEscape(text)
}

// FallbackIntentURL is the legacy compose link for text
func FallbackIntentURL(text string) string {
	return fallbackBase + "?text=" + url.QueryEscape(text)
}

// Text is what gets shared for p: the translation, or the original when there is none
func Text(p types.Post) string {
	if t := strings.TrimSpace(p.TranslatedText); t != "" {
		return t
	}
	return strings.TrimSpace(p.OriginalText)
}

// Opener hands a URL to the platform, e.g. browser.OpenURL
type Opener func(url string) error

// Open opens the intent for text, falling back to the legacy host. It returns
// the URL that was opened.
func Open(open Opener, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("nothing to share")
	}
	primary := IntentURL(text)
	err := open(primary)
	if err == nil {
		return primary, nil
	}
	fallback := FallbackIntentURL(text)
	if ferr := open(fallback); ferr != nil {
		return "", fmt.Errorf("failed to open share intent: %w", errors.Join(err, ferr))
	}
	return fallback, nil
}
