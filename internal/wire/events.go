// Package wire models the JSON event protocol spoken over each client
// WebSocket.
//
// Every frame is an envelope of the form {"event": <name>, "data": {...}}.
// Parsing is strict: unknown envelope fields, unknown event names, and
// malformed payloads are rejected so a single bad frame can be dropped
// without tearing down the connection.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// EventName identifies a protocol event. The sets of client-sent and
// server-sent events are closed; anything else is a protocol error.
type EventName string

// Client -> server events.
const (
	EventRegister     EventName = "register"
	EventSendMessage  EventName = "sendMessage"
	EventCallUser     EventName = "call-user"
	EventAnswerCall   EventName = "answer-call"
	EventRejectCall   EventName = "reject-call"
	EventICECandidate EventName = "ice-candidate"
	EventEndCall      EventName = "end-call"
)

// Server -> client events. EventICECandidate is used in both directions.
const (
	EventUserList       EventName = "userList"
	EventReceiveMessage EventName = "receiveMessage"
	EventIncomingCall   EventName = "incoming-call"
	EventCallAnswered   EventName = "call-answered"
	EventCallRejected   EventName = "call-rejected"
	EventCallEnded      EventName = "call-ended"
	EventCallBusy       EventName = "call-busy"
)

// ClientEvent is a fully decoded and validated inbound frame. Exactly one of
// the payload pointers is non-nil, matching Name.
type ClientEvent struct {
	Name EventName

	Register     *RegisterPayload
	SendMessage  *SendMessagePayload
	CallUser     *CallUserPayload
	AnswerCall   *AnswerCallPayload
	RejectCall   *TargetPayload
	ICECandidate *ICECandidatePayload
	EndCall      *TargetPayload
}

type envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseClientEvent decodes a single inbound frame.
func ParseClientEvent(data []byte) (ClientEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return ClientEvent{}, fmt.Errorf("wire: invalid envelope: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ClientEvent{}, fmt.Errorf("wire: unexpected trailing data")
	}

	ev := ClientEvent{Name: env.Event}
	switch env.Event {
	case EventRegister:
		ev.Register = &RegisterPayload{}
		return ev, decodePayload(env, ev.Register)
	case EventSendMessage:
		ev.SendMessage = &SendMessagePayload{}
		return ev, decodePayload(env, ev.SendMessage)
	case EventCallUser:
		ev.CallUser = &CallUserPayload{}
		return ev, decodePayload(env, ev.CallUser)
	case EventAnswerCall:
		ev.AnswerCall = &AnswerCallPayload{}
		return ev, decodePayload(env, ev.AnswerCall)
	case EventRejectCall:
		ev.RejectCall = &TargetPayload{}
		return ev, decodePayload(env, ev.RejectCall)
	case EventICECandidate:
		ev.ICECandidate = &ICECandidatePayload{}
		return ev, decodePayload(env, ev.ICECandidate)
	case EventEndCall:
		ev.EndCall = &TargetPayload{}
		return ev, decodePayload(env, ev.EndCall)
	default:
		return ClientEvent{}, fmt.Errorf("wire: unsupported event %q", env.Event)
	}
}

type validator interface {
	validate() error
}

func decodePayload(env envelope, into validator) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("wire: %s: missing data", env.Event)
	}
	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("wire: %s: %w", env.Event, err)
	}
	if err := into.validate(); err != nil {
		return fmt.Errorf("wire: %s: %w", env.Event, err)
	}
	return nil
}

// ServerEvent is an outbound frame. Data marshals under "data" and is elided
// for payload-less events (call-rejected, call-ended).
type ServerEvent struct {
	Event EventName `json:"event"`
	Data  any       `json:"data,omitempty"`
}

func UserList(identities []string) ServerEvent {
	if identities == nil {
		identities = []string{}
	}
	return ServerEvent{Event: EventUserList, Data: identities}
}

func ReceiveMessage(from, message string) ServerEvent {
	return ServerEvent{Event: EventReceiveMessage, Data: map[string]string{
		"from":    from,
		"message": message,
	}}
}

func IncomingCall(from string, offer SessionDescription) ServerEvent {
	return ServerEvent{Event: EventIncomingCall, Data: map[string]any{
		"from":  from,
		"offer": offer,
	}}
}

func CallAnswered(answer SessionDescription) ServerEvent {
	return ServerEvent{Event: EventCallAnswered, Data: map[string]any{
		"answer": answer,
	}}
}

func CallRejected() ServerEvent {
	return ServerEvent{Event: EventCallRejected}
}

func CallEnded() ServerEvent {
	return ServerEvent{Event: EventCallEnded}
}

func CallBusy(target string) ServerEvent {
	return ServerEvent{Event: EventCallBusy, Data: map[string]string{
		"target": target,
	}}
}

func ForwardedCandidate(c webrtc.ICECandidateInit) ServerEvent {
	return ServerEvent{Event: EventICECandidate, Data: map[string]any{
		"candidate": c,
	}}
}
