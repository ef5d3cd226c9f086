package message

import (
	"strings"
	"testing"
)

func TestValidateContent(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		image   string
		wantErr bool
	}{
		{"text only", "hello", "", false},
		{"image only", "", "https://cdn.example.com/img/1.png", false},
		{"text and image", "look", "https://cdn.example.com/img/2.png", false},
		{"both empty", "", "", true},
		{"text too many bytes", strings.Repeat("x", MaxTextBytes+1), "", true},
		{"text too many chars", strings.Repeat("é", MaxTextChars+1), "", true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), "", true},
		{"image ref too long", "", strings.Repeat("a", MaxImageRef+1), true},
		{"max length text ok", strings.Repeat("x", MaxTextChars), "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateContent(tc.text, tc.image)
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
