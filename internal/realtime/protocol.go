package realtime

import (
	"encoding/json"
	"fmt"
)

// Pusher-protocol frame names.
const (
	evtConnEstablished = "pusher:connection_established"
	evtPing            = "pusher:ping"
	evtPong            = "pusher:pong"
	evtError           = "pusher:error"
	evtSubscribe       = "pusher:subscribe"
	evtUnsubscribe     = "pusher:unsubscribe"
	evtSubSucceeded    = "pusher_internal:subscription_succeeded"
)

// frame is one Pusher-protocol message. Data arrives double-encoded: a JSON
// string whose contents are themselves JSON.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// payload returns the frame's data with the outer string encoding removed.
func (f *frame) payload() []byte {
	if len(f.Data) == 0 {
		return nil
	}
	if f.Data[0] == '"' {
		var inner string
		if err := json.Unmarshal(f.Data, &inner); err == nil {
			return []byte(inner)
		}
	}
	return f.Data
}

// connEstablished is the payload of pusher:connection_established.
type connEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

// pusherError is the payload of pusher:error.
type pusherError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func marshalFrame(event, channel string) ([]byte, error) {
	f := struct {
		Event string `json:"event"`
		Data  struct {
			Channel string `json:"channel"`
		} `json:"data"`
	}{Event: event}
	f.Data.Channel = channel
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return data, nil
}

func subscribeFrame(channel string) ([]byte, error) {
	return marshalFrame(evtSubscribe, channel)
}

func unsubscribeFrame(channel string) ([]byte, error) {
	return marshalFrame(evtUnsubscribe, channel)
}

func pongFrame() []byte {
	return []byte(`{"event":"pusher:pong","data":"{}"}`)
}
