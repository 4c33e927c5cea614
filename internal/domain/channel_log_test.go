package domain_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"hotel_channel/internal/domain"
)

func TestTruncate(t *testing.T) {
	short := "<response><success/></response>"
	assert.Equal(t, short, domain.Truncate(short))

	ascii := strings.Repeat("a", domain.MaxLoggedBody+10)
	assert.Len(t, domain.Truncate(ascii), domain.MaxLoggedBody)
}

func TestTruncate_NeverSplitsARune(t *testing.T) {
	// "ü" is two bytes and straddles the cap
	s := strings.Repeat("a", domain.MaxLoggedBody-1) + "ü" + "tail"
	got := domain.Truncate(s)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, domain.MaxLoggedBody-1)

	// three-byte runes at every alignment
	for pad := 0; pad < 3; pad++ {
		s := strings.Repeat("a", pad) + strings.Repeat("€", domain.MaxLoggedBody)
		got := domain.Truncate(s)
		assert.True(t, utf8.ValidString(got), "pad %d", pad)
		assert.LessOrEqual(t, len(got), domain.MaxLoggedBody)
	}
}

func TestTruncate_ReplacesInvalidBytes(t *testing.T) {
	got := domain.Truncate("M\xfcller")
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "M�ller", got)
}
