package logging

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateForLog(t *testing.T) {
	assert.Equal(t, "short", TruncateForLog("short", 50))

	exact := strings.Repeat("a", 50)
	assert.Equal(t, exact, TruncateForLog(exact, 50))

	over := strings.Repeat("a", 51)
	got := TruncateForLog(over, 50)
	assert.Equal(t, strings.Repeat("a", 50)+"...", got)
	assert.Len(t, got, 53)
}

func TestTruncateForLog_MultiByteRuneBoundary(t *testing.T) {
	// 30 two-byte runes is 60 bytes; a 51-byte cut would land mid-rune.
	s := strings.Repeat("é", 30)
	got := TruncateForLog(s, 51)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 25)+"...", got)

	// A cut landing exactly on a rune boundary is left where it is.
	got = TruncateForLog(s, 50)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 25)+"...", got)
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	assert.NotNil(t, GetLogger())
}
