package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	titleLimit    = 30
	titleEllipsis = "…"

	groupLinkBase = "https://helixar.ai/group/"
	shareLinkBase = "https://helixar.ai/share/"
)

// deriveTitle keeps the first 30 characters of text, marking a cut with an ellipsis.
func deriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleLimit {
		return text
	}
	return string(runes[:titleLimit]) + titleEllipsis
}

func newGroupLink() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate group link: %w", err)
	}
	return groupLinkBase + hex.EncodeToString(buf), nil
}

func shareLink(id string) string {
	return shareLinkBase + id
}
