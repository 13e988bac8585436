// Package interpreter classifies a completed SMTP dialogue into an
// outcome. It is a pure, stateless function of the response list —
// same input always yields the same output.
package interpreter

import (
	"fmt"

	"emailverify/internal/smtpproto"
)

// Outcome is the interpreter's verdict on a dialogue.
type Outcome string

const (
	Accepted      Outcome = "ACCEPTED"
	Rejected      Outcome = "REJECTED"
	Indeterminate Outcome = "INDETERMINATE"
)

// Result is the interpreter's output: an outcome, the phase whose
// response decided it, and an optional human-readable diagnostic.
type Result struct {
	Outcome       Outcome
	DecisivePhase smtpproto.Phase
	HasDecisive   bool
	Diagnostic    string
	// Code is the decisive response's three-digit SMTP code, or 0 if no
	// response decided the outcome (the empty-response-collection case).
	Code int
}

// Interpret classifies a completed dialogue's responses. RCPT_TO, if
// present, is authoritative; earlier rejections are treated as
// anti-verification blocks rather than evidence about the mailbox.
func Interpret(responses []smtpproto.Response) Result {
	if len(responses) == 0 {
		return Result{Outcome: Indeterminate, Diagnostic: "Empty response collection"}
	}

	if rcpt, ok := findPhase(responses, smtpproto.PhaseRcptTo); ok {
		return interpretRcpt(rcpt)
	}

	for _, phase := range []smtpproto.Phase{smtpproto.PhaseGreeting, smtpproto.PhaseHelo, smtpproto.PhaseMailFrom} {
		resp, ok := findPhase(responses, phase)
		if !ok {
			continue
		}
		if resp.Code < 200 || resp.Code >= 400 {
			return Result{
				Outcome:       Indeterminate,
				DecisivePhase: phase,
				HasDecisive:   true,
				Diagnostic:    fmt.Sprintf("blocked at %s", phase),
				Code:          resp.Code,
			}
		}
	}

	last := responses[len(responses)-1]
	return Result{
		Outcome:       Indeterminate,
		DecisivePhase: last.Phase,
		HasDecisive:   true,
		Diagnostic:    "no decisive phase reached",
		Code:          last.Code,
	}
}

func interpretRcpt(resp smtpproto.Response) Result {
	switch {
	case resp.Code >= 200 && resp.Code < 300:
		return Result{Outcome: Accepted, DecisivePhase: smtpproto.PhaseRcptTo, HasDecisive: true, Code: resp.Code}
	case resp.Code >= 400 && resp.Code < 500:
		return Result{
			Outcome:       Indeterminate,
			DecisivePhase: smtpproto.PhaseRcptTo,
			HasDecisive:   true,
			Diagnostic:    fmt.Sprintf("transient failure at RCPT_TO: %d %s", resp.Code, resp.Message),
			Code:          resp.Code,
		}
	case resp.Code >= 500 && resp.Code < 600:
		return Result{
			Outcome:       Rejected,
			DecisivePhase: smtpproto.PhaseRcptTo,
			HasDecisive:   true,
			Diagnostic:    fmt.Sprintf("%d %s", resp.Code, resp.Message),
			Code:          resp.Code,
		}
	default:
		return Result{
			Outcome:       Indeterminate,
			DecisivePhase: smtpproto.PhaseRcptTo,
			HasDecisive:   true,
			Diagnostic:    fmt.Sprintf("unexpected RCPT_TO code %d", resp.Code),
			Code:          resp.Code,
		}
	}
}

func findPhase(responses []smtpproto.Response, phase smtpproto.Phase) (smtpproto.Response, bool) {
	for _, r := range responses {
		if r.Phase == phase {
			return r, true
		}
	}
	return smtpproto.Response{}, false
}
