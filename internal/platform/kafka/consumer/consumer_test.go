package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

var noop = HandlerFunc(func(context.Context, *Message) error { return nil })

func TestNew_Validation(t *testing.T) {
	cases := map[string]Config{
		"no brokers": {GroupID: "g", Topics: []string{"t"}},
		"no group":   {Brokers: "localhost:9092", Topics: []string{"t"}},
		"no topics":  {Brokers: "localhost:9092", GroupID: "g"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(cfg, noop, nil)
			require.Error(t, err)
		})
	}

	_, err := New(Config{Brokers: "localhost:9092", GroupID: "g", Topics: []string{"t"}}, nil, nil)
	require.Error(t, err)
}

func TestStop_Idempotent(t *testing.T) {
	c, err := New(Config{Brokers: "127.0.0.1:1", GroupID: "g", Topics: []string{"t"}}, noop, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
	assert.False(t, c.Healthy(ctx))
}

func TestToMessage(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := toMessage(&kgo.Record{
		Topic:     "hireloop.auth.events",
		Partition: 2,
		Offset:    41,
		Key:       []byte("subject"),
		Value:     []byte("{}"),
		Timestamp: ts,
		Headers:   []kgo.RecordHeader{{Key: "event_type", Value: []byte("UserRegistered")}},
	})

	assert.Equal(t, int32(2), msg.Partition)
	assert.Equal(t, int64(41), msg.Offset)
	assert.Equal(t, ts, msg.Timestamp)
	assert.Equal(t, "UserRegistered", msg.Headers["event_type"])
}
