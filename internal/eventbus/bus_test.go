package eventbus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tilesync/internal/protocol"
	"github.com/annel0/tilesync/internal/world"
)

func TestNotifyOnlyEnqueues(t *testing.T) {
	bus := New()
	var got []world.EventType
	bus.SubscribeAll(func(ev world.Event) { got = append(got, ev.GetType()) })

	bus.Notify(world.BlockLoaded{ID: 1})
	bus.Notify(world.MapChanged{})
	assert.Empty(t, got)
	assert.Equal(t, 2, bus.Pending())

	bus.Deliver()
	assert.Equal(t, []world.EventType{world.EventBlockLoaded, world.EventMapChanged}, got)
	assert.Zero(t, bus.Pending())
}

func TestTypedSubscribe(t *testing.T) {
	bus := New()
	var chats []world.ChatReceived
	var loaded int
	Subscribe(bus, func(ev world.ChatReceived) { chats = append(chats, ev) })
	Subscribe(bus, func(world.BlockLoaded) { loaded++ })

	bus.Notify(world.ChatReceived{Sender: "a", Text: "hi"})
	bus.Notify(world.BlockLoaded{})
	bus.Notify(world.BlockUnloaded{})
	bus.Deliver()

	require.Len(t, chats, 1)
	assert.Equal(t, "hi", chats[0].Text)
	assert.Equal(t, 1, loaded)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	bus := New()
	calls := 0
	sub := bus.SubscribeAll(func(world.Event) { calls++ })

	bus.Notify(world.MapChanged{})
	bus.Deliver()
	sub.Unsubscribe()
	sub.Unsubscribe()
	bus.Notify(world.MapChanged{})
	bus.Deliver()

	assert.Equal(t, 1, calls)
	assert.Zero(t, bus.Stats().Subscribers)
}

func TestUnsubscribeDuringDelivery(t *testing.T) {
	bus := New()
	var second Subscription
	calls := 0
	bus.SubscribeAll(func(world.Event) { second.Unsubscribe() })
	second = bus.SubscribeAll(func(world.Event) { calls++ })

	bus.Notify(world.MapChanged{})
	bus.Deliver()
	assert.Zero(t, calls)
}

func TestNestedDeliverKeepsOrder(t *testing.T) {
	bus := New()
	var got []world.EventType
	bus.SubscribeAll(func(ev world.Event) {
		got = append(got, ev.GetType())
		if ev.GetType() == world.EventBlockLoaded {
			bus.Notify(world.BlockUnloaded{})
			bus.Deliver() // вложенный вызов возвращается сразу
		}
	})

	bus.Notify(world.BlockLoaded{})
	bus.Notify(world.MapChanged{})
	bus.Deliver()

	assert.Equal(t, []world.EventType{
		world.EventBlockLoaded,
		world.EventMapChanged,
		world.EventBlockUnloaded,
	}, got)
}

func TestSubscriberPanicIsContained(t *testing.T) {
	bus := New()
	calls := 0
	bus.SubscribeAll(func(world.Event) { panic("boom") })
	bus.SubscribeAll(func(world.Event) { calls++ })

	bus.Notify(world.MapChanged{})
	bus.Notify(world.MapChanged{})
	require.NotPanics(t, bus.Deliver)

	assert.Equal(t, 2, calls)
	stats := bus.Stats()
	assert.Equal(t, uint64(2), stats.Panics)
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(2), stats.Delivered)
}

func TestEnvelope(t *testing.T) {
	env, err := NewEnvelope("sess", world.Disconnected{Err: errors.New("reset")})
	require.NoError(t, err)
	assert.Equal(t, "Disconnected", env.EventType)
	assert.Equal(t, "sess", env.SessionID)
	assert.JSONEq(t, `{"error":"reset"}`, string(env.Payload))

	env, err = NewEnvelope("sess", world.AccessChanged{Old: protocol.AccessView, New: protocol.AccessAdministrator})
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Contains(t, payload, "New")
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "tilesync.events.ChatReceived", Subject("tilesync.events", world.EventChatReceived))
	assert.Equal(t, "tilesync.events.MapChanged", Subject("tilesync.events.", world.EventMapChanged))
	assert.Equal(t, "MapChanged", Subject("", world.EventMapChanged))
	assert.Equal(t, "tilesync.events.*", SubjectWildcard("tilesync.events"))
}
