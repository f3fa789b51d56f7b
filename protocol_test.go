package wordimpact

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHandshake(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		hs, err := decodeHandshake(`0{"sid":"abc","upgrades":["websocket"],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`)
		require.NoError(t, err)
		assert.Equal(t, "abc", hs.SID)
		assert.Equal(t, 45*time.Second, hs.heartbeatWindow())
	})

	t.Run("not an open packet", func(t *testing.T) {
		_, err := decodeHandshake(`40`)
		assert.ErrorIs(t, err, ErrHandshake)
	})

	t.Run("missing sid", func(t *testing.T) {
		_, err := decodeHandshake(`0{"pingInterval":1}`)
		assert.ErrorIs(t, err, ErrHandshake)
	})

	t.Run("no heartbeat without interval", func(t *testing.T) {
		hs, err := decodeHandshake(`0{"sid":"x"}`)
		require.NoError(t, err)
		assert.Zero(t, hs.heartbeatWindow())
	})
}

func TestEncodeConnect(t *testing.T) {
	s, err := encodeConnect(nil)
	require.NoError(t, err)
	assert.Equal(t, "40", s)

	s, err = encodeConnect(map[string]string{"token": "t1"})
	require.NoError(t, err)
	assert.Equal(t, `40{"token":"t1"}`, s)
}

func TestEncodeEvent(t *testing.T) {
	s, err := encodeEvent("ping", outboundMessage{Type: "ping", Data: struct{}{}})
	require.NoError(t, err)
	assert.Equal(t, `42["ping",{"type":"ping","data":{}}]`, s)
}

func TestParseSocketPacket(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		typ     byte
		payload string
	}{
		{"event", `2["new_message",{}]`, socketEvent, `["new_message",{}]`},
		{"event with ack id", `213["x"]`, socketEvent, `["x"]`},
		{"namespaced event", `2/admin,["x"]`, socketEvent, `["x"]`},
		{"disconnect", `1`, socketDisconnect, ``},
		{"connect error", `4{"message":"unauthorized"}`, socketConnectError, `{"message":"unauthorized"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, payload, err := parseSocketPacket(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, typ)
			assert.Equal(t, tt.payload, payload)
		})
	}

	_, _, err := parseSocketPacket("")
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseEventArgs(t *testing.T) {
	name, args, err := parseEventArgs(`["new_notification",{"notification":{"title":"t"}}]`)
	require.NoError(t, err)
	assert.Equal(t, "new_notification", name)
	require.Len(t, args, 1)

	for _, bad := range []string{`{}`, `[]`, `[1,2]`, `not json`} {
		_, _, err := parseEventArgs(bad)
		assert.ErrorIs(t, err, ErrMalformedPayload, bad)
	}
}

func TestConnectErrorMessage(t *testing.T) {
	assert.Equal(t, "Authentication error", connectErrorMessage(`{"message":"Authentication error"}`))
	assert.Equal(t, "nope", connectErrorMessage(`"nope"`))
	assert.Equal(t, "connection refused", connectErrorMessage(""))
}

func raw(s string) []json.RawMessage { return []json.RawMessage{json.RawMessage(s)} }

func TestDecodeEvent(t *testing.T) {
	t.Run("new_message", func(t *testing.T) {
		ev, err := decodeEvent(EventNewMessage, raw(`{
			"message": {"id":"m1","content":"hi","sender":{"id":"u1","fullName":"Ada"},"createdAt":"2024-03-01T10:00:00Z"},
			"notification": {"title":"New message","content":"hi"}
		}`))
		require.NoError(t, err)
		nm, ok := ev.(NewMessageEvent)
		require.True(t, ok)
		assert.Equal(t, "m1", nm.Message.ID)
		assert.Equal(t, "Ada", nm.Message.Sender.FullName)
		require.NotNil(t, nm.Notification)
		assert.Equal(t, "New message", nm.Notification.Title)
	})

	t.Run("new_message without id is rejected", func(t *testing.T) {
		_, err := decodeEvent(EventNewMessage, raw(`{"message":{"content":"hi","sender":{"id":"u1"}}}`))
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("new_message without payload is rejected", func(t *testing.T) {
		_, err := decodeEvent(EventNewMessage, nil)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("new_notification requires title", func(t *testing.T) {
		_, err := decodeEvent(EventNewNotification, raw(`{"notification":{"content":"x"}}`))
		assert.ErrorIs(t, err, ErrMalformedPayload)

		ev, err := decodeEvent(EventNewNotification, raw(`{"notification":{"title":"Course update"}}`))
		require.NoError(t, err)
		assert.Equal(t, "Course update", ev.(NewNotificationEvent).Notification.Title)
	})

	t.Run("read events tolerate any payload", func(t *testing.T) {
		ev, err := decodeEvent(EventMessageRead, raw(`{"messageId":"m9"}`))
		require.NoError(t, err)
		assert.Equal(t, "m9", ev.(MessageReadEvent).MessageID)

		ev, err = decodeEvent(EventNotificationRead, nil)
		require.NoError(t, err)
		assert.IsType(t, NotificationReadEvent{}, ev)
	})

	t.Run("error payloads", func(t *testing.T) {
		ev, err := decodeEvent(EventError, raw(`{"error":"rate limited"}`))
		require.NoError(t, err)
		assert.Equal(t, "rate limited", ev.(ServerErrorEvent).Message)

		ev, err = decodeEvent(EventError, raw(`"boom"`))
		require.NoError(t, err)
		assert.Equal(t, "boom", ev.(ServerErrorEvent).Message)
	})

	t.Run("reserved names are rejected", func(t *testing.T) {
		_, err := decodeEvent(EventConnect, nil)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("unknown events pass through", func(t *testing.T) {
		ev, err := decodeEvent("course_published", raw(`{"id":1}`))
		require.NoError(t, err)
		assert.Equal(t, "course_published", ev.EventName())
		assert.Len(t, ev.(RawEvent).Args, 1)
	})
}
