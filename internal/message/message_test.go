package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEncode(t *testing.T) {
	data, err := Event{
		Type:    TypeChatStarted,
		Payload: ChatStarted{RoomID: "r1", Interests: []string{"music"}},
	}.Encode()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, TypeChatStarted, env.Type)
	assert.JSONEq(t, `{"roomId":"r1","interests":["music"]}`, string(env.Payload))
}

func TestEventEncodeEmptyPayload(t *testing.T) {
	data, err := Event{Type: TypePartnerDisconnected, Payload: PartnerDisconnected{}}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"partner_disconnected","payload":{}}`, string(data))
}

func TestReceiveMessageOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(ReceiveMessage{
		Sender:    "a",
		Message:   "hi",
		Type:      KindText,
		Timestamp: "2024-01-02T03:04:05.000Z",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sender":"a","message":"hi","type":"text","timestamp":"2024-01-02T03:04:05.000Z"}`, string(data))
}

func TestSendMessageDecode(t *testing.T) {
	var m SendMessage
	err := json.Unmarshal([]byte(`{"roomId":"r1","message":"","type":"image","imageUrl":"https://x/y.png"}`), &m)
	require.NoError(t, err)
	assert.Equal(t, "r1", m.RoomID)
	assert.Equal(t, KindImage, m.Type)
	assert.Equal(t, "https://x/y.png", m.ImageURL)
}

func TestTimestamp(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2024, 3, 4, 12, 30, 45, 123456789, loc)
	assert.Equal(t, "2024-03-04T10:30:45.123Z", Timestamp(ts))
}

func TestClientKind(t *testing.T) {
	tests := []struct {
		in   Kind
		want Kind
		ok   bool
	}{
		{"", KindText, true},
		{KindText, KindText, true},
		{KindImage, KindImage, true},
		{KindSystem, "", false},
		{"video", "", false},
	}
	for _, tt := range tests {
		got, ok := ClientKind(tt.in)
		assert.Equal(t, tt.ok, ok, "kind %q", tt.in)
		assert.Equal(t, tt.want, got, "kind %q", tt.in)
	}
}
