// Package emailverify determines whether an email address is likely
// deliverable without sending a message, by running partial SMTP
// dialogues and distinguishing selective mail servers from catch-all
// ones.
package emailverify

import (
	"context"
	"fmt"

	"emailverify/internal/catchall"
	"emailverify/internal/dnslookup"
	"emailverify/internal/interpreter"
	"emailverify/internal/obslog"
	"emailverify/internal/smtpproto"
	"emailverify/internal/syntaxcheck"
)

// Pipeline fuses syntax, DNS, SMTP, and behavioral signals into a single
// verification result, never allowing a later stage to run once an
// earlier one has already decided the address is invalid. A Pipeline is
// safe for concurrent use by multiple callers; the only shared mutable
// state is the catch-all detector's cache.
type Pipeline struct {
	cfg Config

	syntaxValidator syntaxcheck.Validator
	dnsResolver     dnslookup.Resolver
	detector        *catchall.Detector
}

// New builds a Pipeline with default collaborators (regexp-free syntax
// validation, net.Resolver-backed DNS, and a catch-all detector wired to
// cfg). HeloDomain and MailFrom are required.
func New(cfg Config) *Pipeline {
	cfg = withDefaults(cfg)

	var transportOpts []smtpproto.Option
	transportOpts = append(transportOpts, smtpproto.WithPort(cfg.SMTPPort))
	transportOpts = append(transportOpts, smtpproto.WithConnectTimeout(cfg.SMTPConnectTimeout))
	transportOpts = append(transportOpts, smtpproto.WithReadTimeout(cfg.SMTPReadTimeout))
	if cfg.ProxyDialer != nil {
		transportOpts = append(transportOpts, smtpproto.WithDialer(cfg.ProxyDialer))
	}

	ttlSeconds := int(cfg.CacheTTL.Seconds())

	return &Pipeline{
		cfg:             cfg,
		syntaxValidator: syntaxcheck.New(),
		dnsResolver:     dnslookup.New(),
		detector: catchall.New(catchall.Config{
			HeloDomain:      cfg.HeloDomain,
			MailFrom:        cfg.MailFrom,
			ProbeCount:      cfg.ProbeCount,
			CachingEnabled:  cfg.CachingEnabled,
			CacheTTLSeconds: ttlSeconds,
			MaxCacheSize:    cfg.MaxCacheSize,
			TransportOpts:   transportOpts,
		}),
	}
}

// newForTest lets internal tests swap in fake syntax/DNS collaborators
// without duplicating the wiring above.
func newForTest(cfg Config, syntaxValidator syntaxcheck.Validator, dnsResolver dnslookup.Resolver, detector *catchall.Detector) *Pipeline {
	cfg = withDefaults(cfg)
	return &Pipeline{cfg: cfg, syntaxValidator: syntaxValidator, dnsResolver: dnsResolver, detector: detector}
}

// CacheStats returns the detector's observable cache statistics: enabled,
// size, hits, misses, hit_rate.
func (p *Pipeline) CacheStats() catchall.Stats { return p.detector.Stats() }

// Verify runs the full pipeline on address: syntax, then DNS, then an
// SMTP dialogue, then interpretation, then (only if accepted)
// behavioral catch-all analysis, fusing the outcomes into one verdict.
//
// Stages fail fast: a syntax failure never invokes DNS; a DNS failure
// (no mail hosts) never invokes SMTP. Cancelling ctx aborts an in-flight
// DNS lookup or the primary SMTP connect and yields StatusUnknown. SMTP
// reads are bounded by SMTPReadTimeout, not by ctx: cancellation does not
// interrupt a dialogue that has already connected.
func (p *Pipeline) Verify(ctx context.Context, address string) Result {
	syntaxResult := p.syntaxValidator.Validate(address)
	if !syntaxResult.Valid {
		return Result{
			Status:             StatusInvalid,
			SyntaxValid:        false,
			DomainResolvable:   false,
			SMTPAccepted:       false,
			CatchAllConfidence: catchall.NotDetected,
			Diagnostic:         "Invalid email syntax",
		}
	}

	dns := p.dnsResolver.Resolve(ctx, syntaxResult.Domain, p.cfg.DNSTimeout)
	if ctx.Err() != nil {
		return Result{
			Status:             StatusUnknown,
			SyntaxValid:        true,
			DomainResolvable:   dns.HasMailHosts(),
			SMTPAccepted:       false,
			CatchAllConfidence: catchall.Indetermin,
			Diagnostic:         fmt.Sprintf("verification cancelled: %v", ctx.Err()),
		}
	}
	if !dns.HasMailHosts() {
		return Result{
			Status:             StatusInvalid,
			SyntaxValid:        true,
			DomainResolvable:   false,
			SMTPAccepted:       false,
			CatchAllConfidence: catchall.NotDetected,
			Diagnostic:         "Domain has no valid MX/A mail hosts",
		}
	}

	responses, transportErr := p.runDialogue(ctx, dns.PrimaryMailHost(), address)
	// A transport error during the final QUIT, after RCPT_TO already got
	// a real answer, does not invalidate that answer — only a failure
	// that left RCPT_TO unanswered is treated as a hard transport error.
	if transportErr != nil && !hasRcptResponse(responses) {
		obslog.Default().WithField("domain", syntaxResult.Domain).Warn("smtp transport failure: " + transportErr.Error())
		return Result{
			Status:             StatusUnknown,
			SyntaxValid:        true,
			DomainResolvable:   true,
			SMTPAccepted:       false,
			CatchAllConfidence: catchall.Indetermin,
			Diagnostic:         fmt.Sprintf("SMTP transport failure: %v", transportErr),
		}
	}

	interp := interpreter.Interpret(responses)

	var confidence catchall.Result
	if interp.Outcome == interpreter.Accepted {
		confidence = p.detector.Detect(ctx, responses, syntaxResult.Domain, dns.PrimaryMailHost())
	} else {
		confidence = catchall.Result{Confidence: catchall.NotDetected, Diagnostic: "Primary verification rejected"}
	}

	return fuse(interp, confidence)
}

func (p *Pipeline) runDialogue(ctx context.Context, mailHost, address string) ([]smtpproto.Response, error) {
	var transportOpts []smtpproto.Option
	transportOpts = append(transportOpts, smtpproto.WithPort(p.cfg.SMTPPort))
	transportOpts = append(transportOpts, smtpproto.WithConnectTimeout(p.cfg.SMTPConnectTimeout))
	transportOpts = append(transportOpts, smtpproto.WithReadTimeout(p.cfg.SMTPReadTimeout))
	if p.cfg.ProxyDialer != nil {
		transportOpts = append(transportOpts, smtpproto.WithDialer(p.cfg.ProxyDialer))
	}

	transport := smtpproto.New(mailHost, transportOpts...)
	defer transport.Close()

	if err := transport.Connect(ctx); err != nil {
		return nil, err
	}

	session := smtpproto.NewSession(transport, p.cfg.HeloDomain, p.cfg.MailFrom)
	responses, err := session.Verify(address)
	if err != nil {
		return responses, err
	}
	return responses, nil
}

// fuse turns an SMTP interpretation plus a catch-all confidence into a
// single simplified status: acceptance with confirmed catch-all demotes
// VALID to CATCH_ALL; rejection is always INVALID; anything indeterminate
// is UNKNOWN.
func fuse(interp interpreter.Result, confidence catchall.Result) Result {
	base := Result{
		SyntaxValid:        true,
		DomainResolvable:   true,
		CatchAllConfidence: confidence.Confidence,
		Diagnostic:         pickDiagnostic(interp.Diagnostic, confidence.Diagnostic),
		SMTPCode:           interp.Code,
	}

	switch interp.Outcome {
	case interpreter.Accepted:
		base.SMTPAccepted = true
		if confidence.Confidence == catchall.Confirmed {
			base.Status = StatusCatchAll
		} else {
			base.Status = StatusValid
		}
	case interpreter.Rejected:
		base.SMTPAccepted = false
		base.Status = StatusInvalid
	default: // Indeterminate
		base.SMTPAccepted = false
		base.Status = StatusUnknown
	}
	return base
}

func pickDiagnostic(interpDiag, confidenceDiag string) string {
	if interpDiag != "" {
		return interpDiag
	}
	return confidenceDiag
}

func hasRcptResponse(responses []smtpproto.Response) bool {
	for _, r := range responses {
		if r.Phase == smtpproto.PhaseRcptTo {
			return true
		}
	}
	return false
}
