package types

// StreamStats summarizes one participant stream of one recording. It is
// written next to the media file when stats files are enabled and published
// with pipelineClosed notifications.
type StreamStats struct {
	RecordingID   string `json:"recordingId"`
	ParticipantID int64  `json:"participantId"`
	Kind          string `json:"kind"`
	FilePath      string `json:"filePath"`
	StartTime     int64  `json:"startTime"`
	EndTime       int64  `json:"endTime"`

	FirstRelative float64 `json:"firstRelative"`
	LastChunkEnd  float64 `json:"lastChunkEnd"`

	ChunksReceived int     `json:"chunksReceived"`
	ChunksDropped  int     `json:"chunksDropped"`
	PaddingSeconds float64 `json:"paddingSeconds"`
	PaddingFrames  int     `json:"paddingFrames,omitempty"`

	Flushes       int   `json:"flushes"`
	BytesWritten  int64 `json:"bytesWritten"`
	EncoderErrors int   `json:"encoderErrors"`
}
