package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-publisher/internal/publish"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New(0, nil)
	id1, err := pub.Publish(context.Background(), "outcomes", publish.Outcome{
		ListingID: "l1",
		Status:    publish.StatusPosted,
		Attempts:  1,
		Timestamp: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `"payload"`, string(msgs[1].Data))

	msgs[0].Topic = "modified"
	assert.Equal(t, "outcomes", pub.Messages()[0].Topic, "Messages returns a copy")

	outcomes, err := pub.Outcomes("outcomes")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "l1", outcomes[0].ListingID)
	assert.Equal(t, publish.StatusPosted, outcomes[0].Status)
}

func TestPublisherDropsOldestOverCapacity(t *testing.T) {
	t.Parallel()

	pub := New(2, nil)
	for i := 0; i < 3; i++ {
		_, err := pub.Publish(context.Background(), "t", i)
		require.NoError(t, err)
	}
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "memory-2", msgs[0].ID)
	assert.Equal(t, "memory-3", msgs[1].ID)
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	_, err := New(1, nil).Publish(context.Background(), "t", make(chan int))
	require.Error(t, err)
}
