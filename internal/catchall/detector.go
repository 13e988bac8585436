// Package catchall implements multi-probe catch-all detection: given a
// domain whose primary RCPT_TO was accepted, probe the same mail host
// with several random local parts and see whether the server accepts
// all of them (catch-all) or is selective.
package catchall

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"emailverify/internal/obslog"
	"emailverify/internal/smtpproto"
)

// Confidence is the detector's verdict on whether a domain is catch-all.
type Confidence string

const (
	Confirmed   Confidence = "CONFIRMED"
	Suspected   Confidence = "SUSPECTED"
	NotDetected Confidence = "NOT_DETECTED"
	Indetermin  Confidence = "INDETERMINATE"
)

// Result is the detector's verdict on one domain.
type Result struct {
	Confidence Confidence
	Diagnostic string
}

const (
	MinProbeCount     = 1
	MaxProbeCount     = 5
	DefaultProbeCount = 2
)

// Config configures a Detector. Zero-value fields are replaced with
// spec defaults by New.
type Config struct {
	HeloDomain      string
	MailFrom        string
	ProbeCount      int
	CachingEnabled  *bool // nil means the default (true)
	CacheTTLSeconds int   // 0 means the default (3600)
	MaxCacheSize    int   // 0 means the default (10000)
	TransportOpts   []smtpproto.Option
}

// Detector runs multi-probe catch-all detection against a mail host,
// with an optional per-domain result cache in front of it.
type Detector struct {
	heloDomain string
	mailFrom   string
	probeCount int

	cachingEnabled bool
	cache          *Cache

	transportOpts []smtpproto.Option
}

// New constructs a Detector, clamping ProbeCount into [1,5] and applying
// documented defaults for any zero-valued Config field.
func New(cfg Config) *Detector {
	probeCount := cfg.ProbeCount
	if probeCount == 0 {
		probeCount = DefaultProbeCount
	}
	if probeCount < MinProbeCount {
		probeCount = MinProbeCount
	}
	if probeCount > MaxProbeCount {
		probeCount = MaxProbeCount
	}

	cachingEnabled := true
	if cfg.CachingEnabled != nil {
		cachingEnabled = *cfg.CachingEnabled
	}

	ttlSeconds := cfg.CacheTTLSeconds
	if ttlSeconds == 0 {
		ttlSeconds = 3600
	}
	maxSize := cfg.MaxCacheSize
	if maxSize == 0 {
		maxSize = 10000
	}

	return &Detector{
		heloDomain:     cfg.HeloDomain,
		mailFrom:       cfg.MailFrom,
		probeCount:     probeCount,
		cachingEnabled: cachingEnabled,
		cache:          NewCache(time.Duration(ttlSeconds)*time.Second, maxSize),
		transportOpts:  cfg.TransportOpts,
	}
}

// Stats exposes the underlying cache's observable statistics.
func (d *Detector) Stats() Stats { return d.cache.Stats(d.cachingEnabled) }

// Detect runs the full algorithm: single-probe pre-analysis on the
// primary dialogue's RCPT_TO response, a cache lookup, and — only when
// neither short-circuits — a fresh batched probe session.
func (d *Detector) Detect(ctx context.Context, primaryResponses []smtpproto.Response, domain, mailHost string) Result {
	rcpt, ok := findRcpt(primaryResponses)
	if !ok {
		return Result{Confidence: Indetermin, Diagnostic: "primary RCPT_TO response missing"}
	}

	switch {
	case rcpt.Code >= 500 && rcpt.Code < 600:
		result := Result{Confidence: NotDetected, Diagnostic: "server is selective"}
		d.maybeCache(domain, result)
		return result
	case rcpt.Code >= 200 && rcpt.Code < 300:
		// continue to batched probing below
	default:
		return Result{Confidence: Indetermin, Diagnostic: fmt.Sprintf("ambiguous primary RCPT_TO code %d", rcpt.Code)}
	}

	if d.cachingEnabled {
		if cached, found := d.cache.Get(domain); found {
			obslog.Default().WithField("domain", domain).Debug("catch-all cache hit")
			return cached
		}
	}

	result := d.runProbeSession(ctx, domain, mailHost)
	d.maybeCache(domain, result)
	return result
}

func (d *Detector) maybeCache(domain string, result Result) {
	if !d.cachingEnabled || result.Confidence == Indetermin {
		return
	}
	d.cache.Put(domain, result)
}

type probeOutcome string

const (
	probeAccepted probeOutcome = "ACCEPTED"
	probeRejected probeOutcome = "REJECTED"
	probeFailed   probeOutcome = "FAILED"
)

// runProbeSession opens a fresh transport to mailHost, drives
// GREETING/HELO/MAIL FROM exactly as the primary pipeline does, then
// issues d.probeCount consecutive RCPT TO probes with distinct random
// local parts, and finally QUIT. Once connected, QUIT is also attempted
// when the greeting, HELO or MAIL FROM step fails.
func (d *Detector) runProbeSession(ctx context.Context, domain, mailHost string) Result {
	transport := smtpproto.New(mailHost, d.transportOpts...)
	if err := transport.Connect(ctx); err != nil {
		return d.allFailed(fmt.Sprintf("probe session connect failed: %v", err))
	}
	defer transport.Close()

	quit := func() {
		_ = transport.SendCommand("QUIT")
		_, _ = transport.ReadResponse()
	}

	if _, err := transport.ReadResponse(); err != nil {
		quit()
		return d.allFailed(fmt.Sprintf("probe session greeting failed: %v", err))
	}
	if err := roundTripOK(transport, fmt.Sprintf("HELO %s", d.heloDomain)); err != nil {
		quit()
		return d.allFailed(fmt.Sprintf("probe session HELO failed: %v", err))
	}
	if err := roundTripOK(transport, fmt.Sprintf("MAIL FROM:<%s>", d.mailFrom)); err != nil {
		quit()
		return d.allFailed(fmt.Sprintf("probe session MAIL FROM failed: %v", err))
	}

	outcomes := make([]probeOutcome, 0, d.probeCount)
	seen := make(map[string]struct{}, d.probeCount)
	for i := 0; i < d.probeCount; i++ {
		local := probeLocalPart()
		if _, dup := seen[local]; dup {
			local = probeLocalPart()
		}
		seen[local] = struct{}{}

		outcomes = append(outcomes, d.runOneProbe(transport, local, domain))
	}

	quit()

	return aggregate(outcomes)
}

func (d *Detector) runOneProbe(transport *smtpproto.Transport, localPart, domain string) probeOutcome {
	probeAddr := fmt.Sprintf("%s@%s", localPart, domain)
	if err := transport.SendCommand(fmt.Sprintf("RCPT TO:<%s>", probeAddr)); err != nil {
		return probeFailed
	}
	raw, err := transport.ReadResponse()
	if err != nil {
		return probeFailed
	}
	code := leadingCode(raw)
	switch {
	case code >= 200 && code < 300:
		return probeAccepted
	case code >= 500 && code < 600:
		return probeRejected
	default:
		return probeFailed
	}
}

func (d *Detector) allFailed(diagnostic string) Result {
	obslog.Default().Warn(diagnostic)
	outcomes := make([]probeOutcome, d.probeCount)
	for i := range outcomes {
		outcomes[i] = probeFailed
	}
	return aggregate(outcomes)
}

// aggregate turns a batch of probe outcomes into one confidence verdict:
// any rejection proves the server is selective; uniform acceptance
// confirms a catch-all; uniform failure or a mixed batch is only
// suspected, never confirmed.
func aggregate(outcomes []probeOutcome) Result {
	var accepted, rejected, failed int
	for _, o := range outcomes {
		switch o {
		case probeAccepted:
			accepted++
		case probeRejected:
			rejected++
		case probeFailed:
			failed++
		}
	}
	total := len(outcomes)

	switch {
	case rejected > 0:
		return Result{Confidence: NotDetected, Diagnostic: "server is selective"}
	case accepted == total:
		return Result{Confidence: Confirmed, Diagnostic: "all probes accepted"}
	case failed == total:
		return Result{Confidence: Suspected, Diagnostic: "probes failed to complete"}
	default:
		return Result{Confidence: Suspected, Diagnostic: "mixed probe outcomes"}
	}
}

// probeLocalPart generates a local part with negligible collision
// probability against a real mailbox: "probe-" followed by a v4 UUID
// with its dashes stripped (32 hex digits, 122 of the 128 bits random).
func probeLocalPart() string {
	return "probe-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func findRcpt(responses []smtpproto.Response) (smtpproto.Response, bool) {
	for _, r := range responses {
		if r.Phase == smtpproto.PhaseRcptTo {
			return r, true
		}
	}
	return smtpproto.Response{}, false
}

func roundTripOK(t *smtpproto.Transport, command string) error {
	if err := t.SendCommand(command); err != nil {
		return err
	}
	raw, err := t.ReadResponse()
	if err != nil {
		return err
	}
	code := leadingCode(raw)
	if code < 200 || code >= 300 {
		return fmt.Errorf("non-2xx response: %s", raw)
	}
	return nil
}

func leadingCode(raw string) int {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < 3 {
		return smtpproto.NoResponseCode
	}
	var code int
	if _, err := fmt.Sscanf(trimmed[:3], "%d", &code); err != nil {
		return smtpproto.NoResponseCode
	}
	return code
}
