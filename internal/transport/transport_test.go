package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushMessage(repo string) *Message {
	return &Message{
		Event:    "push",
		Delivery: "delivery-" + repo,
		Payload:  json.RawMessage(`{"repository":{"full_name":"` + repo + `"}}`),
	}
}

func TestChannelPublishReceive(t *testing.T) {
	ctx := context.Background()
	ch := NewChannel(2)

	require.NoError(t, ch.Publish(ctx, pushMessage("orga/a")))
	require.NoError(t, ch.Publish(ctx, pushMessage("orga/b")))

	msg, err := ch.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "delivery-orga/a", msg.Delivery)

	msg, err = ch.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "delivery-orga/b", msg.Delivery)

	_, err = ch.Receive(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestChannelPublishBlocksWhenFull(t *testing.T) {
	ch := NewChannel(1)
	require.NoError(t, ch.Publish(context.Background(), pushMessage("orga/a")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ch.Publish(ctx, pushMessage("orga/b"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelReceiveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChannel(1).Receive(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNone(t *testing.T) {
	n := NewNone(nil)
	ctx := context.Background()

	require.NoError(t, n.Publish(ctx, pushMessage("orga/a")))

	start := time.Now()
	_, err := n.Receive(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPushDropOldest(t *testing.T) {
	ch := make(chan *Message, 1)
	pushDropOldest(ch, pushMessage("orga/a"))
	pushDropOldest(ch, pushMessage("orga/b"))

	require.Len(t, ch, 1)
	assert.Equal(t, "delivery-orga/b", (<-ch).Delivery)
}

func TestHubWithoutSubscribers(t *testing.T) {
	hub := NewHub(nil)
	assert.NoError(t, hub.Publish(context.Background(), pushMessage("orga/a")))
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHubDial(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sub, err := Dial(ctx, url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(ctx, pushMessage("orga/a")))

	msg, err := sub.Receive(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "push", msg.Event)
	assert.Equal(t, "delivery-orga/a", msg.Delivery)
	assert.JSONEq(t, `{"repository":{"full_name":"orga/a"}}`, string(msg.Payload))

	_, err = sub.Receive(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	cancel()
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/api/events", nil)
	assert.Error(t, err)
}

func TestDialRejectsNonWebsocketURL(t *testing.T) {
	_, err := Dial(context.Background(), "http://127.0.0.1:1/api/events", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported transport url scheme")
}
