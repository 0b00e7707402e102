package recorder

import (
	"fmt"
	"strings"
)

// MediaKind selects the encoder profile and output container of a pipeline.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

func (k MediaKind) Extension() string {
	switch k {
	case MediaKindAudio:
		return ".mp3"
	case MediaKindVideo:
		return ".mp4"
	default:
		return ""
	}
}

func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}

// StreamKey identifies one participant's stream within one recording.
type StreamKey struct {
	RecordingID   string
	ParticipantID int64
}

func NewStreamKey(recordingID string, participantID int64) StreamKey {
	return StreamKey{RecordingID: recordingID, ParticipantID: participantID}
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s/%d", k.RecordingID, k.ParticipantID)
}

// Dir is the per-recording directory, relative to the recorder directory.
func (k StreamKey) Dir() string {
	return "recording-" + k.RecordingID
}

// BaseName is the file name stem shared by every artifact of the stream.
func (k StreamKey) BaseName() string {
	return fmt.Sprintf("participant-%d", k.ParticipantID)
}

func (k StreamKey) validate() error {
	switch {
	case k.RecordingID == "":
		return fmt.Errorf("empty recording id")
	case k.RecordingID == "." || k.RecordingID == "..":
		return fmt.Errorf("invalid recording id %q", k.RecordingID)
	case strings.ContainsAny(k.RecordingID, `/\`+"\x00"):
		return fmt.Errorf("recording id %q contains a path separator", k.RecordingID)
	}
	return nil
}
