package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := NewPublisher()

	id1, err := pub.Publish(context.Background(), map[string]string{"url": "https://a.example"})
	require.NoError(t, err)
	id2, err := pub.Publish(context.Background(), map[string]string{"url": "https://b.example"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	messages := pub.Messages()
	require.Len(t, messages, 2)

	var first map[string]string
	require.NoError(t, json.Unmarshal(messages[0], &first))
	require.Equal(t, "https://a.example", first["url"])
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := NewPublisher()
	_, err := pub.Publish(context.Background(), make(chan int))
	require.Error(t, err)
	require.Empty(t, pub.Messages())
}
