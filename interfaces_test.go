package tiercache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInterfaces(t *testing.T) {
	var _ Backend = NewMockBackend()
	var _ Logger = &MockLogger{}
	var _ Logger = NewDefaultLogger()
	var _ Encrypter = &EncryptionAdapter{}
}

func TestSequentialBatchHelpers(t *testing.T) {
	ctx := context.Background()
	b := NewMockBackend()

	assert.True(t, SequentialBatchSet(ctx, b, map[string]any{"a": 1, "b": 2}, time.Minute))
	assert.Equal(t, 2, b.Calls("Set"))
	assert.Equal(t, time.Minute, b.TTL("a"))

	assert.Equal(t, map[string]any{"a": 1, "b": 2}, SequentialBatchGet(ctx, b, []string{"a", "b", "c"}))
	assert.Empty(t, SequentialBatchGet(ctx, b, nil))

	assert.True(t, SequentialBatchDelete(ctx, b, []string{"a", "c"}))
	assert.False(t, SequentialBatchDelete(ctx, b, []string{"a", "c"}))

	b.SetDown(true)
	assert.False(t, SequentialBatchSet(ctx, b, map[string]any{"x": 1}, 0))
	assert.Equal(t, 0, b.Calls("BatchGet"))
}
