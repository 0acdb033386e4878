package event

import (
	"bytes"
	"encoding/json"
	"time"
)

// TimeLayout is the timestamp format of every record: UTC with microsecond
// precision and a Z suffix.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Kind identifies the variant of an Event.
type Kind string

const (
	KindOpen         Kind = "open"
	KindClose        Kind = "close"
	KindData         Kind = "data"
	KindStartLogging Kind = "start-logging"
	KindStopLogging  Kind = "stop-logging"
	KindMCPReady     Kind = "mcp-ready"
)

// Event is one log record before serialization.
type Event struct {
	Time time.Time
	Kind Kind

	// Traffic fields.
	ConnID string
	From   string
	To     string

	// Data holds the Encode form of the payload, never raw bytes.
	Data string

	// Logging meta-event fields. An empty Directory means the console.
	Directory      string
	FilenameFormat string

	// Endpoint is set on mcp-ready.
	Endpoint string
}

func Open(connID, from, to string) Event {
	return Event{Time: now(), Kind: KindOpen, ConnID: connID, From: from, To: to}
}

func Close(connID, from, to string) Event {
	return Event{Time: now(), Kind: KindClose, ConnID: connID, From: from, To: to}
}

// Data records one chunk read from the from side. The payload is encoded
// immediately, so the caller may reuse p afterwards.
func Data(connID, from, to string, p []byte) Event {
	return Event{Time: now(), Kind: KindData, ConnID: connID, From: from, To: to, Data: Encode(p)}
}

// StartLogging records a destination being enabled. directory is empty for
// the console, in which case filenameFormat is ignored.
func StartLogging(directory, filenameFormat string) Event {
	e := Event{Time: now(), Kind: KindStartLogging, Directory: directory}
	if directory != "" {
		e.FilenameFormat = filenameFormat
	}
	return e
}

func StopLogging(directory string) Event {
	return Event{Time: now(), Kind: KindStopLogging, Directory: directory}
}

func MCPReady(endpoint string) Event {
	return Event{Time: now(), Kind: KindMCPReady, Endpoint: endpoint}
}

func now() time.Time {
	return time.Now().UTC()
}

type trafficLine struct {
	Time   string `json:"time"`
	ConnID string `json:"ConnID"`
	Event  Kind   `json:"event,omitempty"`
	Data   string `json:"data,omitempty"`
	From   string `json:"from"`
	To     string `json:"to"`
}

type loggingLine struct {
	Time           string  `json:"time"`
	Event          Kind    `json:"event"`
	Directory      *string `json:"directory"`
	FilenameFormat string  `json:"filename_format,omitempty"`
}

type readyLine struct {
	Time     string `json:"time"`
	Event    Kind   `json:"event"`
	Endpoint string `json:"endpoint"`
}

// MarshalLine serializes e as one compact JSON object followed by LF.
func (e Event) MarshalLine() ([]byte, error) {
	ts := e.Time.UTC().Format(TimeLayout)

	var v any
	switch e.Kind {
	case KindData:
		// Data already holds the encoded form; an empty read is never logged,
		// so omitempty cannot drop the key.
		v = trafficLine{Time: ts, ConnID: e.ConnID, Data: e.Data, From: e.From, To: e.To}
	case KindStartLogging, KindStopLogging:
		l := loggingLine{Time: ts, Event: e.Kind}
		if e.Directory != "" {
			dir := e.Directory
			l.Directory = &dir
			if e.Kind == KindStartLogging {
				l.FilenameFormat = e.FilenameFormat
			}
		}
		v = l
	case KindMCPReady:
		v = readyLine{Time: ts, Event: e.Kind, Endpoint: e.Endpoint}
	default:
		v = trafficLine{Time: ts, ConnID: e.ConnID, Event: e.Kind, From: e.From, To: e.To}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
