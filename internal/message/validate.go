package message

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxTextBytes = 4096 // 4KB max text size
	MaxTextChars = 2000 // max character count
	MaxImageRef  = 2048 // max length of an image reference
)

// ValidateContent checks that a message payload meets content requirements.
// At least one of text/image must be present; when present, text must be
// valid UTF-8 within the size limits.
func ValidateContent(text, image string) error {
	if text == "" && image == "" {
		return fmt.Errorf("message has neither text nor image")
	}
	if len(text) > MaxTextBytes {
		return fmt.Errorf("text exceeds %d byte limit", MaxTextBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("text exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("text contains invalid UTF-8")
	}
	if len(image) > MaxImageRef {
		return fmt.Errorf("image reference exceeds %d byte limit", MaxImageRef)
	}
	return nil
}
