package events

import (
	"fmt"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/recallai/separate-streams-recorder/internal/types"
)

const (
	CloseRecordingKey    = "closeRecording"
	GetRecorderStatusKey = "getRecorderStatus"
	RecorderStatusKey    = "recorderStatus"
	PipelineOpenedKey    = "pipelineOpened"
	PipelineClosedKey    = "pipelineClosed"
	RecordingClosedKey   = "recordingClosed"
)

// Reasons carried by recordingClosed.
const (
	CloseReasonConnectionClosed = "connection_closed"
	CloseReasonIdle             = "idle"
	CloseReasonRequest          = "request"
	CloseReasonShutdown         = "shutdown"
)

const (
	StatusOk     = "ok"
	StatusFailed = "failed"
)

/*
closeRecording (controller -> Recorder)
```JSON5
{
	id: 'closeRecording',
	recordingId: <String>,
}
```
*/

type CloseRecording struct {
	Id          string `json:"id,omitempty"`
	RecordingId string `json:"recordingId,omitempty"`
}

func (e *CloseRecording) Validate() error {
	if e.RecordingId == "" {
		return fmt.Errorf("recordingId is required")
	}
	return nil
}

func (e *CloseRecording) Success(closedPipelines int) *RecordingClosed {
	return &RecordingClosed{
		Id:              RecordingClosedKey,
		RecordingId:     e.RecordingId,
		Reason:          CloseReasonRequest,
		Status:          StatusOk,
		ClosedPipelines: pointer.ToInt(closedPipelines),
		TimestampUTC:    time.Now().UnixMilli(),
	}
}

func (e *CloseRecording) Fail(err error) *RecordingClosed {
	return &RecordingClosed{
		Id:           RecordingClosedKey,
		RecordingId:  e.RecordingId,
		Reason:       CloseReasonRequest,
		Status:       StatusFailed,
		Error:        pointer.ToString(err.Error()),
		TimestampUTC: time.Now().UnixMilli(),
	}
}

/*
recordingClosed (Recorder -> controller)
```JSON5
{
	id: 'recordingClosed',
	recordingId: <String>,
	reason: 'connection_closed' | 'idle' | 'request' | 'shutdown',
	status: 'ok' | 'failed',
	error: undefined | <String>,
	closedPipelines: undefined | <Number>,
	timestampUTC: <Number>,
}
```
*/

type RecordingClosed struct {
	Id              string  `json:"id,omitempty"`
	RecordingId     string  `json:"recordingId,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	Status          string  `json:"status,omitempty"`
	Error           *string `json:"error,omitempty"`
	ClosedPipelines *int    `json:"closedPipelines,omitempty"`
	TimestampUTC    int64   `json:"timestampUTC"`
}

func NewRecordingClosed(recordingId, reason string, closedPipelines int) *RecordingClosed {
	return &RecordingClosed{
		Id:              RecordingClosedKey,
		RecordingId:     recordingId,
		Reason:          reason,
		Status:          StatusOk,
		ClosedPipelines: pointer.ToInt(closedPipelines),
		TimestampUTC:    time.Now().UnixMilli(),
	}
}

/*
pipelineOpened (Recorder -> controller)
```JSON5
{
	id: 'pipelineOpened',
	recordingId: <String>,
	participantId: <Number>,
	kind: 'audio' | 'video',
	fileName: <String>,
	timestampUTC: <Number>,
}
```
*/

type PipelineOpened struct {
	Id            string `json:"id,omitempty"`
	RecordingId   string `json:"recordingId,omitempty"`
	ParticipantId int64  `json:"participantId"`
	Kind          string `json:"kind,omitempty"`
	FileName      string `json:"fileName,omitempty"`
	TimestampUTC  int64  `json:"timestampUTC"`
}

func NewPipelineOpened(recordingId string, participantId int64, kind, fileName string) *PipelineOpened {
	return &PipelineOpened{
		Id:            PipelineOpenedKey,
		RecordingId:   recordingId,
		ParticipantId: participantId,
		Kind:          kind,
		FileName:      fileName,
		TimestampUTC:  time.Now().UnixMilli(),
	}
}

/*
pipelineClosed (Recorder -> controller)
```JSON5
{
	id: 'pipelineClosed',
	recordingId: <String>,
	participantId: <Number>,
	kind: 'audio' | 'video',
	fileName: <String>,
	stats: <Object>,
	timestampUTC: <Number>,
}
```
*/

type PipelineClosed struct {
	Id            string             `json:"id,omitempty"`
	RecordingId   string             `json:"recordingId,omitempty"`
	ParticipantId int64              `json:"participantId"`
	Kind          string             `json:"kind,omitempty"`
	FileName      string             `json:"fileName,omitempty"`
	Stats         *types.StreamStats `json:"stats,omitempty"`
	TimestampUTC  int64              `json:"timestampUTC"`
}

func NewPipelineClosed(stats *types.StreamStats) *PipelineClosed {
	return &PipelineClosed{
		Id:            PipelineClosedKey,
		RecordingId:   stats.RecordingID,
		ParticipantId: stats.ParticipantID,
		Kind:          stats.Kind,
		FileName:      stats.FilePath,
		Stats:         stats,
		TimestampUTC:  time.Now().UnixMilli(),
	}
}

/*
getRecorderStatus (controller -> Recorder)
```JSON5
{
	id: 'getRecorderStatus',
}
```

recorderStatus (Recorder -> controller)
```JSON5
{
	id: 'recorderStatus',
	appVersion: <String>,
	instanceId: <String>,
	sessions: undefined | <Number>,
	activePipelines: undefined | <Number>,
}
```
*/

type RecorderStatus struct {
	Id              string `json:"id,omitempty"`
	AppVersion      string `json:"appVersion,omitempty"`
	InstanceId      string `json:"instanceId,omitempty"`
	Sessions        *int   `json:"sessions,omitempty"`
	ActivePipelines *int   `json:"activePipelines,omitempty"`
}

func NewRecorderStatus(appVersion, instanceId string) *RecorderStatus {
	return &RecorderStatus{
		Id:         RecorderStatusKey,
		AppVersion: appVersion,
		InstanceId: instanceId,
	}
}

func (s *RecorderStatus) WithLoad(sessions, activePipelines int) *RecorderStatus {
	s.Sessions = pointer.ToInt(sessions)
	s.ActivePipelines = pointer.ToInt(activePipelines)
	return s
}
