package recall

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func audioMessage(recording string, participant int64, relative float64, pcm []byte) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "audio_separate_raw.data",
		"data": {
			"data": {
				"buffer": %q,
				"timestamp": {"relative": %v, "absolute": "2024-01-01T00:00:00Z"},
				"participant": {"id": %d, "name": "Ada", "is_host": true, "platform": "desktop", "extra_data": {}}
			},
			"realtime_endpoint": {"id": "re-1", "metadata": {}},
			"audio_separate": {"id": "as-1", "metadata": {}},
			"recording": {"id": %q, "metadata": {"team": "a"}},
			"bot": {"id": "bot-1", "metadata": {}}
		}
	}`, base64.StdEncoding.EncodeToString(pcm), relative, participant, recording))
}

func TestDecode_AudioEvent(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	e, err := Decode(audioMessage("rec-1", 100, 1.5, pcm))
	require.NoError(t, err)

	assert.Equal(t, EventAudioSeparateRaw, e.Event)
	assert.Equal(t, "rec-1", e.RecordingID())
	assert.Equal(t, int64(100), e.ParticipantID())
	assert.Equal(t, 1.5, e.Relative())
	assert.Equal(t, "a", e.Data.Recording.Metadata["team"])
	assert.True(t, e.Data.Data.Participant.IsHost)
	assert.NoError(t, e.Validate())

	buf, err := e.DecodeBuffer()
	require.NoError(t, err)
	assert.Equal(t, pcm, buf)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte(`{"event": `))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"event": "x", "data": {"data": {"timestamp": {"relative": "soon"}}}}`))
	assert.Error(t, err)
}

func TestEvent_Validate(t *testing.T) {
	rel := func(v float64) *float64 { return &v }
	pid := func(v int64) *int64 { return &v }

	valid := func() *Event {
		return &Event{
			Event: EventVideoSeparatePng,
			Data: Payload{
				Data: MediaData{
					Buffer:      "iVBORw0KGgo=",
					Type:        VideoTypeWebcam,
					Timestamp:   Timestamp{Relative: rel(2)},
					Participant: Participant{ID: pid(7)},
				},
				Recording: &Resource{ID: "rec-1"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(e *Event)
		wantErr bool
	}{
		{name: "valid", mutate: func(e *Event) {}},
		{name: "screenshare", mutate: func(e *Event) { e.Data.Data.Type = VideoTypeScreenshare }},
		{name: "unknown event", mutate: func(e *Event) { e.Event = "transcript.data" }, wantErr: true},
		{name: "no recording", mutate: func(e *Event) { e.Data.Recording = nil }, wantErr: true},
		{name: "empty recording id", mutate: func(e *Event) { e.Data.Recording.ID = "" }, wantErr: true},
		{name: "no buffer", mutate: func(e *Event) { e.Data.Data.Buffer = "" }, wantErr: true},
		{name: "no timestamp", mutate: func(e *Event) { e.Data.Data.Timestamp.Relative = nil }, wantErr: true},
		{name: "negative timestamp", mutate: func(e *Event) { e.Data.Data.Timestamp.Relative = rel(-1) }, wantErr: true},
		{name: "no participant", mutate: func(e *Event) { e.Data.Data.Participant.ID = nil }, wantErr: true},
		{name: "bad video type", mutate: func(e *Event) { e.Data.Data.Type = "hologram" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			if err := e.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEvent_DecodeBufferInvalid(t *testing.T) {
	e := &Event{Data: Payload{Data: MediaData{Buffer: "%%%"}}}
	_, err := e.DecodeBuffer()
	assert.Error(t, err)
}
