package events

import (
	"github.com/titanous/json5"
)

// Event is a control message received over pub/sub. Its payload is decoded
// lazily once the id is known.
type Event struct {
	Id      string
	message []byte
}

func Decode(message []byte) *Event {
	m := make(map[string]interface{})
	if err := json5.Unmarshal(message, &m); err != nil {
		return &Event{message: message}
	}

	id, _ := m["id"].(string)
	return &Event{Id: id, message: message}
}

func (e *Event) IsValid() bool {
	return e != nil && e.Id != ""
}

func (e *Event) CloseRecording() *CloseRecording {
	if e.Id != CloseRecordingKey {
		return nil
	}
	var r CloseRecording
	if err := json5.Unmarshal(e.message, &r); err != nil {
		return nil
	}
	return &r
}
