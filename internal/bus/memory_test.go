package bus_test

import (
	"context"
	"testing"

	"github.com/hypley/hypley/internal/bus"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()

	var got []bus.Envelope
	unsub, err := b.Subscribe(ctx, bus.TopicSync, func(env bus.Envelope) {
		got = append(got, env)
	})
	require.NoError(t, err)

	env, err := bus.NewEnvelope(bus.EventVoiceUpdate, "tab-1", "carioca")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, bus.TopicSync, env))

	require.Len(t, got, 1)
	require.Equal(t, bus.EventVoiceUpdate, got[0].Type)
	require.Equal(t, "tab-1", got[0].Origin)

	var voice string
	require.NoError(t, got[0].Decode(&voice))
	require.Equal(t, "carioca", voice)

	unsub()
	require.NoError(t, b.Publish(ctx, bus.TopicSync, env))
	require.Len(t, got, 1, "no delivery after unsubscribe")
}

func TestMemoryBus_TopicsAreIsolated(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()

	var syncCount, liveCount int
	_, err := b.Subscribe(ctx, bus.TopicSync, func(bus.Envelope) { syncCount++ })
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, bus.TopicLive, func(bus.Envelope) { liveCount++ })
	require.NoError(t, err)

	env, err := bus.NewEnvelope(bus.EventLiveState, "tab-1", map[string]bool{"active": true})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, bus.TopicLive, env))

	require.Equal(t, 0, syncCount)
	require.Equal(t, 1, liveCount)
}

func TestMemoryBus_LostWhenNotSubscribed(t *testing.T) {
	ctx := context.Background()
	b := bus.NewMemoryBus()

	env, err := bus.NewEnvelope(bus.EventContextUpdate, "tab-1", map[string]string{"name": "Foo"})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, bus.TopicSync, env))

	var got int
	_, err = b.Subscribe(ctx, bus.TopicSync, func(bus.Envelope) { got++ })
	require.NoError(t, err)
	require.Equal(t, 0, got, "events published before subscription are lost, not queued")
}
