package broker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/gameview-services/internal/comm"
)

type delivery struct {
	destination string
	frame       []byte
}

type fakeHub struct {
	got []delivery
}

func (f *fakeHub) Deliver(destination string, frame []byte) int {
	f.got = append(f.got, delivery{destination, frame})
	return 1
}

func TestNotificationIsDeliveredToItsDestination(t *testing.T) {
	hub := &fakeHub{}
	b := NewBroker(nil, hub)

	data := []byte(`{"destination":"/topic/game/4/errors","payload":{"gameId":4}}`)
	b.handleNotification(data)

	require.Len(t, hub.got, 1)
	assert.Equal(t, "/topic/game/4/errors", hub.got[0].destination)
	assert.JSONEq(t, string(data), string(hub.got[0].frame))
}

func TestMalformedNotificationIsDropped(t *testing.T) {
	hub := &fakeHub{}
	b := NewBroker(nil, hub)

	b.handleNotification([]byte(`not json`))
	b.handleNotification([]byte(`{"payload":{}}`))

	assert.Empty(t, hub.got)
}

func TestGameEventIsWrapped(t *testing.T) {
	hub := &fakeHub{}
	b := NewBroker(nil, hub)

	b.handleGameEvent([]byte(`{"id":9,"status":"PAUSADO"}`))

	require.Len(t, hub.got, 1)
	assert.Equal(t, GamesDestination, hub.got[0].destination)

	var n comm.Notification
	require.NoError(t, json.Unmarshal(hub.got[0].frame, &n))
	assert.Equal(t, GamesDestination, n.Destination)
	assert.JSONEq(t, `{"id":9,"status":"PAUSADO"}`, string(n.Payload))
}
