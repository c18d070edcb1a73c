package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "record.persisted", map[string]int{"id": 1445})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "record.failed", map[string]int{"id": 9})
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "record.persisted", msgs[0].Topic)
	assert.Equal(t, "record.failed", msgs[1].Topic)

	msgs[0].Topic = "modified"
	assert.Equal(t, "record.persisted", pub.Messages()[0].Topic, "Messages returns a copy")
}

func TestPublisherByTopicAndFailure(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	_, _ = pub.Publish(ctx, "a", 1)
	_, _ = pub.Publish(ctx, "b", 2)
	_, _ = pub.Publish(ctx, "a", 3)
	assert.Equal(t, []any{1, 3}, pub.ByTopic("a"))

	pub.FailWith(assert.AnError)
	_, err := pub.Publish(ctx, "a", 4)
	require.ErrorIs(t, err, assert.AnError)
	assert.Len(t, pub.Messages(), 3)
}
