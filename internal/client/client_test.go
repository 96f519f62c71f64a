package client

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/koscakluka/ema-bridge/core/audio"
	"github.com/koscakluka/ema-bridge/core/codec"
	"github.com/koscakluka/ema-bridge/core/events"
	"github.com/koscakluka/ema-bridge/core/transport"
)

func TestClientSendsInputs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	local, remote := transport.Pipe()
	c := New(local)
	defer c.Close()

	require.NoError(t, c.SendText(ctx, "hello"))
	require.NoError(t, c.SendAudio(ctx, []byte{1, 2}))

	raw, err := remote.Receive(ctx)
	require.NoError(t, err)
	event, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, events.NewTextInput("hello", events.RoleUser), event)

	raw, err = remote.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bidi_audio_input", gjson.GetBytes(raw, "type").String())
	assert.Equal(t, int64(audio.DefaultSampleRate), gjson.GetBytes(raw, "sample_rate").Int())
	assert.Equal(t, "pcm", gjson.GetBytes(raw, "format").String())
}

func TestClientEventsSkipsGarbageAndEndsOnClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	local, remote := transport.Pipe()
	c := New(local)

	frames := [][]byte{
		[]byte(`{"type":"bidi_response_start","response_id":"r1"}`),
		[]byte(`not json`),
		[]byte(`{"type":"transcript","role":"assistant","text":"hi","is_final":true}`),
		[]byte(`{"type":"bidi_response_complete","response_id":"r1","stop_reason":"completed"}`),
	}
	for _, frame := range frames {
		require.NoError(t, remote.Send(ctx, frame))
	}
	require.NoError(t, remote.Close())

	var kinds []events.Kind
	for event, err := range c.Events(ctx) {
		require.NoError(t, err)
		kinds = append(kinds, event.Kind())
	}
	assert.Equal(t, []events.Kind{
		events.KindResponseStart,
		events.KindTranscriptOutput,
		events.KindResponseComplete,
	}, kinds)
}

func TestDecodeLegacyNames(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{7, 8, 9})

	testCases := []struct {
		name string
		raw  string
		want events.Event
	}{
		{
			name: "audio",
			raw:  `{"type":"audio","data":"` + payload + `"}`,
			want: events.AudioOutput{Audio: []byte{7, 8, 9}},
		},
		{
			name: "transcript",
			raw:  `{"type":"transcript","role":"user","text":"hey","is_final":true}`,
			want: events.NewTranscriptOutput(events.RoleUser, "hey", true),
		},
		{
			name: "error",
			raw:  `{"type":"error","message":"boom"}`,
			want: events.Error{Message: "boom"},
		},
		{
			name: "current names pass through",
			raw:  `{"type":"bidi_error","message":"boom","kind":"tool"}`,
			want: events.NewError(events.ErrorKindTool, "boom"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeRejectsBadLegacyAudio(t *testing.T) {
	_, err := Decode([]byte(`{"type":"audio","data":"%%%"}`))
	var decodeErr *codec.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}
