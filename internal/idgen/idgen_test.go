package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSession(t *testing.T) {
	id := Session()
	assert.True(t, strings.HasPrefix(id, SessionPrefix))
	assert.Len(t, id, len(SessionPrefix)+24)
	assert.NotEqual(t, id, Session())
}

func TestHex(t *testing.T) {
	assert.Len(t, Hex(4), 8)
}
