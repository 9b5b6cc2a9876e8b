package types

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBatchID(t *testing.T) {
	id := BatchID(uuid.NewString())
	assert.True(t, id.IsValid())
	assert.False(t, id.IsZero())
	assert.Len(t, id.String(), 36)

	assert.True(t, BatchID("").IsZero())
	assert.False(t, BatchID("short").IsValid())
}
