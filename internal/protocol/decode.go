package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeServerEvent validates and decodes an inbound envelope into its typed
// payload. The switch is exhaustive over the server vocabulary; unknown
// events and malformed payloads are rejected here so nothing dynamically
// typed ever reaches the store.
func DecodeServerEvent(env Envelope) (any, error) {
	switch env.Event {
	case EventInitialData:
		return decodeInto[InitialData](env)
	case EventReceiveMessage:
		return decodeInto[ReceiveMessage](env)
	case EventMessageStatusUpdate:
		return decodeInto[MessageStatusUpdate](env)
	case EventUserStatusUpdate:
		return decodeInto[UserStatusUpdate](env)
	case EventDirectChatStarted:
		return decodeInto[DirectChatStarted](env)
	case EventGroupCreated:
		return decodeInto[GroupCreated](env)
	case EventServerError:
		return decodeInto[ServerError](env)
	case EventAck:
		return decodeInto[Ack](env)
	default:
		return nil, fmt.Errorf("unknown server event %q", env.Event)
	}
}

func decodeInto[T any](env Envelope) (*T, error) {
	var out T
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &out); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Event, err)
		}
	}
	return &out, nil
}

// Encode frames an outbound event.
func Encode(event EventType, ackID uint64, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		raw = data
	}
	return json.Marshal(Envelope{Event: event, AckID: ackID, Payload: raw})
}
