package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docchat/pkg/chatapi"
)

func TestEncodeFrame(t *testing.T) {
	b, err := encodeFrame(EventJoinChat, chatapi.ChatRef{ChatID: "c-1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"join_chat","data":{"chat_id":"c-1"}}`, string(b))

	b, err = encodeFrame(EventGetChatStats, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"get_chat_stats"}`, string(b))

	_, err = encodeFrame("", nil)
	require.Error(t, err)
}

func TestDecodeFrame(t *testing.T) {
	ev, err := decodeFrame([]byte(`{"event":"status_update","data":{"chat_id":"c-1","status":"processing","message":"thinking"}}`))
	require.NoError(t, err)
	require.Equal(t, EventStatusUpdate, ev.Name)

	var p chatapi.StatusUpdatePayload
	require.NoError(t, ev.Decode(&p))
	require.Equal(t, "c-1", p.ChatID)
	require.Equal(t, chatapi.StatusProcessing, p.Status)

	_, err = decodeFrame([]byte(`not json`))
	require.Error(t, err)
	_, err = decodeFrame([]byte(`{"data":{}}`))
	require.Error(t, err)
}

func TestEventDecodeRejectsMissingPayload(t *testing.T) {
	var p chatapi.ChatMessagesPayload
	require.Error(t, Event{Name: EventChatMessages}.Decode(&p))
	require.Error(t, Event{Name: EventChatMessages, Data: []byte("null")}.Decode(&p))
	require.Error(t, Event{Name: EventChatMessages, Data: []byte(`{"messages":"nope"}`)}.Decode(&p))
}
