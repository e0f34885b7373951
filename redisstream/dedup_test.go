package redisstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeduplicator_RecognizesRedelivery(t *testing.T) {
	d := NewDeduplicator(time.Minute)
	defer d.Stop()

	assert.False(t, d.Seen("e1"))
	assert.True(t, d.Seen("e1"))
	assert.False(t, d.Seen("e2"))
}

func TestDeduplicator_ExpiresOutsideWindow(t *testing.T) {
	d := NewDeduplicator(10 * time.Millisecond)
	defer d.Stop()

	assert.False(t, d.Seen("e1"))
	time.Sleep(30 * time.Millisecond)
	assert.False(t, d.Seen("e1"))
}
