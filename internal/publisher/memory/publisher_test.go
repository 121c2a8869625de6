package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	require.NoError(t, pub.Publish(context.Background(), "topic-a", map[string]any{"k": "v"}))
	require.NoError(t, pub.Publish(context.Background(), "topic-b", map[string]any{"n": 2}))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "topic-a", msgs[0].Topic)
	require.Equal(t, "topic-b", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "topic-a", pub.Messages()[0].Topic, "Messages returns a copy")

	require.NoError(t, pub.Close())
}
