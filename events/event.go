package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// EventKind names the actions room controllers react to.
type EventKind uint8

const (
	WakeUp EventKind = iota + 1
	Bedtime
	AlarmTest
)

var eventKindNames = map[EventKind]string{
	WakeUp:    "wakeup",
	Bedtime:   "bedtime",
	AlarmTest: "alarm_test",
}

func (k EventKind) String() string {
	return eventKindNames[k]
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, error) {
	for kind, name := range eventKindNames {
		if name == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Event is what the scheduler publishes on the bus when a job fires. The ID
// is a ULID assigned at publish time.
type Event struct {
	ID   string    `json:"id" msgpack:"id"`
	Kind EventKind `json:"kind" msgpack:"kind"`
	Room string    `json:"room" msgpack:"room"`
	At   time.Time `json:"at" msgpack:"at"`
}

func (e *Event) String() (string, error) {
	b, err := json.Marshal(&e)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func (e *Event) Marshal() ([]byte, error) {
	return msgpack.Marshal(&e)
}

func (e *Event) Unmarshal(bytes []byte) error {
	return msgpack.Unmarshal(bytes, &e)
}
