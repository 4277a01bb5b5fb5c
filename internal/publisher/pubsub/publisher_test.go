package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-publisher/internal/publish"
)

type stubResult struct {
	id  string
	err error
}

func (r stubResult) Get(context.Context) (string, error) { return r.id, r.err }

type stubTopic struct {
	sent []*pubsub.Message
	err  error
}

func (s *stubTopic) Publish(_ context.Context, msg *pubsub.Message) publishResult {
	s.sent = append(s.sent, msg)
	return stubResult{id: "srv-1", err: s.err}
}

func TestNewRequiresTopic(t *testing.T) {
	_, err := New(context.Background(), Config{ProjectID: "p"})
	require.Error(t, err)
}

func TestPublishEncodesOutcome(t *testing.T) {
	topic := &stubTopic{}
	p := &Publisher{topic: topic}

	out := publish.Outcome{ListingID: "l1", Status: publish.StatusError, Attempts: 3, Error: "gave up", Timestamp: time.Unix(0, 0).UTC()}
	id, err := p.Publish(context.Background(), "listing.outcome", out)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", id)

	require.Len(t, topic.sent, 1)
	msg := topic.sent[0]
	assert.Equal(t, "listing.outcome", msg.Attributes["event"])
	assert.Equal(t, "l1", msg.Attributes["listing_id"])
	assert.Equal(t, "error", msg.Attributes["status"])

	var decoded publish.Outcome
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, out, decoded)
}

func TestPublishSurfacesServerError(t *testing.T) {
	p := &Publisher{topic: &stubTopic{err: errors.New("unavailable")}}
	_, err := p.Publish(context.Background(), "t", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "unavailable")

	_, err = (&Publisher{}).Publish(context.Background(), "t", nil)
	require.Error(t, err)
}
