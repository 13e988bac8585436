package smtpproto

import (
	"fmt"
	"strconv"
	"strings"

	"emailverify/internal/obslog"
)

// Phase enumerates the linear SMTP dialogue stages this system drives,
// in the order they occur.
type Phase int

const (
	PhaseGreeting Phase = iota
	PhaseHelo
	PhaseMailFrom
	PhaseRcptTo
	PhaseQuit
)

func (p Phase) String() string {
	switch p {
	case PhaseGreeting:
		return "GREETING"
	case PhaseHelo:
		return "HELO"
	case PhaseMailFrom:
		return "MAIL_FROM"
	case PhaseRcptTo:
		return "RCPT_TO"
	case PhaseQuit:
		return "QUIT"
	default:
		return "UNKNOWN"
	}
}

// NoResponseCode is the sentinel recorded when a response is absent or
// malformed.
const NoResponseCode = -1

// Response is one phase-tagged SMTP reply.
type Response struct {
	Code    int
	Message string
	Phase   Phase
}

// CodeClass returns code/100, e.g. 2 for a 250 response. Undefined for
// the NoResponseCode sentinel.
func (r Response) CodeClass() int { return r.Code / 100 }

// parseResponse trims whitespace and extracts a 3-digit leading code.
// Empty or malformed input becomes the NoResponseCode sentinel.
func parseResponse(raw string, phase Phase) Response {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Response{Code: NoResponseCode, Message: "NO_RESPONSE", Phase: phase}
	}
	if len(trimmed) < 3 {
		return Response{Code: NoResponseCode, Message: trimmed, Phase: phase}
	}
	code, err := strconv.Atoi(trimmed[:3])
	if err != nil {
		return Response{Code: NoResponseCode, Message: trimmed, Phase: phase}
	}
	rest := strings.TrimSpace(trimmed[3:])
	return Response{Code: code, Message: rest, Phase: phase}
}

// Session drives the GREETING→HELO→MAIL_FROM→RCPT_TO→QUIT dialogue over
// an already-constructed Transport. Transitions are unconditional; the
// session never branches on a response code — that is the interpreter's
// job.
type Session struct {
	transport  *Transport
	heloDomain string
	mailFrom   string
}

// NewSession builds a Session over transport, which must already have
// had Connect called successfully.
func NewSession(transport *Transport, heloDomain, mailFrom string) *Session {
	return &Session{transport: transport, heloDomain: heloDomain, mailFrom: mailFrom}
}

// Verify runs the full dialogue for recipient and returns one Response
// per phase actually reached, plus a final QUIT entry. On a transport
// error mid-dialogue, the session stops advancing through the
// request/response phases but still attempts QUIT so the connection is
// torn down cleanly; the triggering error is returned alongside whatever
// responses were collected.
func (s *Session) Verify(recipient string) ([]Response, error) {
	var responses []Response

	greeting, err := s.transport.ReadResponse()
	if err != nil {
		return s.finishAfterError(responses, err)
	}
	responses = append(responses, parseResponse(greeting, PhaseGreeting))

	if err := s.roundTrip(&responses, PhaseHelo, fmt.Sprintf("HELO %s", s.heloDomain)); err != nil {
		return s.finishAfterError(responses, err)
	}
	if err := s.roundTrip(&responses, PhaseMailFrom, fmt.Sprintf("MAIL FROM:<%s>", s.mailFrom)); err != nil {
		return s.finishAfterError(responses, err)
	}
	if err := s.roundTrip(&responses, PhaseRcptTo, fmt.Sprintf("RCPT TO:<%s>", recipient)); err != nil {
		return s.finishAfterError(responses, err)
	}

	if err := s.roundTrip(&responses, PhaseQuit, "QUIT"); err != nil {
		responses = append(responses, Response{
			Code:    NoResponseCode,
			Message: "NO_RESPONSE (connection closed during QUIT)",
			Phase:   PhaseQuit,
		})
		return responses, err
	}
	return responses, nil
}

// finishAfterError attempts QUIT in a guaranteed-release phase after an
// earlier transport error, recording a synthetic response if QUIT
// itself cannot be completed. The original error is always returned.
func (s *Session) finishAfterError(responses []Response, cause error) ([]Response, error) {
	obslog.Default().WithField("phase", "error").Debug("smtp session aborting after transport error: " + cause.Error())
	if err := s.transport.SendCommand("QUIT"); err == nil {
		if raw, readErr := s.transport.ReadResponse(); readErr == nil {
			responses = append(responses, parseResponse(raw, PhaseQuit))
			return responses, cause
		}
	}
	responses = append(responses, Response{
		Code:    NoResponseCode,
		Message: "NO_RESPONSE (connection closed during QUIT)",
		Phase:   PhaseQuit,
	})
	return responses, cause
}

func (s *Session) roundTrip(responses *[]Response, phase Phase, command string) error {
	if err := s.transport.SendCommand(command); err != nil {
		return err
	}
	raw, err := s.transport.ReadResponse()
	if err != nil {
		return err
	}
	*responses = append(*responses, parseResponse(raw, phase))
	return nil
}
