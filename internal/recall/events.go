package recall

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
)

const (
	EventAudioSeparateRaw = "audio_separate_raw.data"
	EventVideoSeparatePng = "video_separate_png.data"
)

// Video stream types.
const (
	VideoTypeWebcam      = "webcam"
	VideoTypeScreenshare = "screenshare"
)

type Timestamp struct {
	// Relative is seconds since the recording started.
	Relative *float64 `json:"relative"`
	Absolute string   `json:"absolute"`
}

type Participant struct {
	ID        *int64          `json:"id"`
	Name      *string         `json:"name"`
	IsHost    bool            `json:"is_host"`
	Platform  *string         `json:"platform"`
	ExtraData json.RawMessage `json:"extra_data,omitempty"`
	Email     *string         `json:"email,omitempty"`
}

type MediaData struct {
	// Buffer is base64: s16le 16 kHz mono PCM for audio, a PNG for video.
	Buffer      string      `json:"buffer"`
	Type        string      `json:"type,omitempty"`
	Timestamp   Timestamp   `json:"timestamp"`
	Participant Participant `json:"participant"`
}

type Resource struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Payload struct {
	Data             MediaData `json:"data"`
	RealtimeEndpoint *Resource `json:"realtime_endpoint,omitempty"`
	AudioSeparate    *Resource `json:"audio_separate,omitempty"`
	VideoSeparate    *Resource `json:"video_separate,omitempty"`
	Recording        *Resource `json:"recording,omitempty"`
	Bot              *Resource `json:"bot,omitempty"`
}

// Event is one realtime message, delivered either as a WebSocket frame or
// as a webhook body.
type Event struct {
	Event string  `json:"event"`
	Data  Payload `json:"data"`
}

func Decode(message []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(message, &e); err != nil {
		return nil, fmt.Errorf("decoding realtime event: %w", err)
	}
	return &e, nil
}

// RecordingID is empty when the message does not name a recording.
func (e *Event) RecordingID() string {
	if e.Data.Recording == nil {
		return ""
	}
	return e.Data.Recording.ID
}

func (e *Event) IsMedia() bool {
	return e.Event == EventAudioSeparateRaw || e.Event == EventVideoSeparatePng
}

// Validate checks the fields needed to route and process a media event.
func (e *Event) Validate() error {
	if !e.IsMedia() {
		return fmt.Errorf("unsupported event %q", e.Event)
	}
	if e.RecordingID() == "" {
		return fmt.Errorf("missing recording id")
	}

	d := e.Data.Data
	if d.Buffer == "" {
		return fmt.Errorf("missing buffer")
	}
	if d.Timestamp.Relative == nil {
		return fmt.Errorf("missing relative timestamp")
	}
	if r := *d.Timestamp.Relative; r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return fmt.Errorf("invalid relative timestamp %v", r)
	}
	if d.Participant.ID == nil {
		return fmt.Errorf("missing participant id")
	}

	if e.Event == EventVideoSeparatePng {
		switch d.Type {
		case "", VideoTypeWebcam, VideoTypeScreenshare:
		default:
			return fmt.Errorf("unsupported video type %q", d.Type)
		}
	}
	return nil
}

// ParticipantID returns the participant id of a validated event.
func (e *Event) ParticipantID() int64 {
	if e.Data.Data.Participant.ID == nil {
		return 0
	}
	return *e.Data.Data.Participant.ID
}

// Relative returns the relative timestamp of a validated event.
func (e *Event) Relative() float64 {
	if e.Data.Data.Timestamp.Relative == nil {
		return 0
	}
	return *e.Data.Data.Timestamp.Relative
}

func (e *Event) DecodeBuffer() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(e.Data.Data.Buffer)
	if err != nil {
		return nil, fmt.Errorf("decoding buffer: %w", err)
	}
	return b, nil
}
