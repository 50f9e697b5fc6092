package openrouter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrimSentences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"under the limit", "One. Two.", 5, "One. Two."},
		{"at the limit", "One. Two. Three.", 3, "One. Two. Three."},
		{"over the limit", "One. Two. Three. Four.", 2, "One. Two."},
		{"mixed punctuation", "Really? Yes! Fine. Bye.", 3, "Really? Yes! Fine."},
		{"decimal points are not sentence ends", "Pi is 3.14159 roughly. Next. Then.", 2, "Pi is 3.14159 roughly. Next."},
		{"no terminators", "just a fragment with no end", 2, "just a fragment with no end"},
		{"zero max keeps everything", "One. Two.", 0, "One. Two."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, trimSentences(tc.in, tc.max))
		})
	}
}

func TestGenerateRequiresAPIKey(t *testing.T) {
	c := New("", "some-model", 0.4, "http://localhost", "test")
	_, err := c.Generate("hello", nil)
	require.Error(t, err)
}
