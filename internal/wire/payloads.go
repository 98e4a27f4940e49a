package wire

import (
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// maxIdentityBytes bounds user-chosen identities. The directory keys on these
// strings, so an unbounded identity is an unbounded map key.
const maxIdentityBytes = 128

func validIdentity(field, v string) error {
	if v == "" {
		return fmt.Errorf("missing %s", field)
	}
	if len(v) > maxIdentityBytes {
		return fmt.Errorf("%s exceeds %d bytes", field, maxIdentityBytes)
	}
	return nil
}

// SessionDescription is the JSON shape browsers produce for offers and
// answers. The SDP body is forwarded verbatim; validation is structural only.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (s SessionDescription) validateAs(wantType string) error {
	if s.Type != wantType {
		return fmt.Errorf("sdp type %q, want %q", s.Type, wantType)
	}
	if s.SDP == "" {
		return fmt.Errorf("missing sdp body")
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(s.SDP)); err != nil {
		return fmt.Errorf("unparseable sdp: %w", err)
	}
	return nil
}

type RegisterPayload struct {
	Username string `json:"username"`
}

func (p *RegisterPayload) validate() error {
	return validIdentity("username", p.Username)
}

type SendMessagePayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
	From    string `json:"from"`
}

func (p *SendMessagePayload) validate() error {
	if err := validIdentity("to", p.To); err != nil {
		return err
	}
	if err := validIdentity("from", p.From); err != nil {
		return err
	}
	if p.Message == "" {
		return fmt.Errorf("missing message")
	}
	return nil
}

type CallUserPayload struct {
	Target string             `json:"target"`
	Offer  SessionDescription `json:"offer"`
	From   string             `json:"from"`
}

func (p *CallUserPayload) validate() error {
	if err := validIdentity("target", p.Target); err != nil {
		return err
	}
	if err := validIdentity("from", p.From); err != nil {
		return err
	}
	return p.Offer.validateAs("offer")
}

type AnswerCallPayload struct {
	Target string             `json:"target"`
	Answer SessionDescription `json:"answer"`
}

func (p *AnswerCallPayload) validate() error {
	if err := validIdentity("target", p.Target); err != nil {
		return err
	}
	return p.Answer.validateAs("answer")
}

// TargetPayload carries events whose only argument is the other party
// (reject-call, end-call).
type TargetPayload struct {
	Target string `json:"target"`
}

func (p *TargetPayload) validate() error {
	return validIdentity("target", p.Target)
}

// ICECandidatePayload carries a trickle-ICE candidate addressed to the other
// party. The candidate is the browser's RTCIceCandidateInit shape; pion's
// type has the matching JSON layout, and the candidate is forwarded verbatim.
type ICECandidatePayload struct {
	Target    string                  `json:"target"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func (p *ICECandidatePayload) validate() error {
	if err := validIdentity("target", p.Target); err != nil {
		return err
	}
	if p.Candidate.Candidate == "" {
		return fmt.Errorf("missing candidate")
	}
	return nil
}
