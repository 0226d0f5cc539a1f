package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tailmesh/browsersync/internal/clock"
)

// TimeFormat is the canonical timestamp representation envelopes must
// emit: RFC3339 with nanosecond precision and a literal "Z" suffix. The
// The total-order tiebreak compares these strings lexicographically, which is only
// correct for a single fixed format — every envelope must use exactly
// this one.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// Envelope is the immutable, globally unique unit of replication. Two
// envelopes are equal iff their IDs match; every other field is advisory.
type Envelope struct {
	ID        string
	Timestamp string
	Device    string
	Clock     clock.Clock
	Event     Payload
}

// New builds an envelope for event authored by device at the given
// already-ticked clock. The caller is responsible for ticking the clock
// before calling New (construction is the atomic triple of
// lease, tick, materialize, which the event log owns).
func New(device string, c clock.Clock, payload Payload) Envelope {
	return Envelope{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Timestamp: time.Now().UTC().Format(TimeFormat),
		Device:    device,
		Clock:     c,
		Event:     payload,
	}
}

// wireEnvelope mirrors Envelope's JSON shape with Event split into the
// {"type", "data"} tagged object.
type wireEnvelope struct {
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Device    string      `json:"device"`
	Clock     clock.Clock `json:"clock"`
	Event     wireEvent   `json:"event"`
}

type wireEvent struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if u, ok := e.Event.(Unknown); ok {
		data = u.Data
	} else {
		data, err = json.Marshal(e.Event)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
	}
	w := wireEnvelope{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Device:    e.Device,
		Clock:     e.Clock,
		Event: wireEvent{
			Type: e.Event.Type(),
			Data: data,
		},
	}
	return json.Marshal(w)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	payload, err := decodePayload(w.Event.Type, w.Event.Data)
	if err != nil {
		return err
	}

	e.ID = w.ID
	e.Timestamp = w.Timestamp
	e.Device = w.Device
	e.Clock = w.Clock
	e.Event = payload
	return nil
}

func decodePayload(tag Type, data json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch tag {
	case TypeExtensionAdded:
		var v ExtensionAdded
		err = json.Unmarshal(data, &v)
		p = v
	case TypeExtensionRemoved:
		var v ExtensionRemoved
		err = json.Unmarshal(data, &v)
		p = v
	case TypeExtensionInstalled:
		var v ExtensionInstalled
		err = json.Unmarshal(data, &v)
		p = v
	case TypeExtensionUninstalled:
		var v ExtensionUninstalled
		err = json.Unmarshal(data, &v)
		p = v
	case TypeContainerAdded:
		var v ContainerAdded
		err = json.Unmarshal(data, &v)
		p = v
	case TypeContainerRemoved:
		var v ContainerRemoved
		err = json.Unmarshal(data, &v)
		p = v
	case TypeContainerUpdated:
		var v ContainerUpdated
		err = json.Unmarshal(data, &v)
		p = v
	case TypeHandlerSet:
		var v HandlerSet
		err = json.Unmarshal(data, &v)
		p = v
	case TypeHandlerRemoved:
		var v HandlerRemoved
		err = json.Unmarshal(data, &v)
		p = v
	case TypeSearchEngineAdded:
		var v SearchEngineAdded
		err = json.Unmarshal(data, &v)
		p = v
	case TypeSearchEngineRemoved:
		var v SearchEngineRemoved
		err = json.Unmarshal(data, &v)
		p = v
	case TypeSearchEngineDefault:
		var v SearchEngineDefault
		err = json.Unmarshal(data, &v)
		p = v
	case TypePrefSet:
		var v PrefSet
		err = json.Unmarshal(data, &v)
		p = v
	case TypePrefRemoved:
		var v PrefRemoved
		err = json.Unmarshal(data, &v)
		p = v
	case TypeTabSent:
		var v TabSent
		err = json.Unmarshal(data, &v)
		p = v
	case TypeTabReceived:
		var v TabReceived
		err = json.Unmarshal(data, &v)
		p = v
	default:
		p = Unknown{TypeTag: tag, Data: data}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", tag, err)
	}
	return p, nil
}
