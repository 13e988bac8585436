// Package dnslookup implements the DNS resolver interface the pipeline
// consumes. No DNS library appears anywhere in the example pack, so this
// is built directly on net.Resolver with a context timeout — the
// standard library is the only "ecosystem way" demonstrated here.
package dnslookup

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"emailverify/internal/verrors"
)

// Status is the tagged-variant discriminant for a resolution attempt.
type Status string

const (
	MXFound         Status = "MX_FOUND"
	FallbackARecord Status = "FALLBACK_A_RECORD"
	NXDomain        Status = "NXDOMAIN"
	Timeout         Status = "TIMEOUT"
	Failure         Status = "FAILURE"
)

// Result is the outcome of resolving a domain's mail hosts.
// MailHosts is non-empty iff Status is MXFound or FallbackARecord;
// MailHosts[0] is the primary mail host.
type Result struct {
	Status    Status
	MailHosts []string
	Err       error
}

// HasMailHosts reports whether at least one usable mail host was found.
func (r Result) HasMailHosts() bool { return len(r.MailHosts) > 0 }

// PrimaryMailHost returns MailHosts[0], or "" if none.
func (r Result) PrimaryMailHost() string {
	if len(r.MailHosts) == 0 {
		return ""
	}
	return r.MailHosts[0]
}

// Resolver resolves a domain to its ordered mail hosts.
type Resolver interface {
	Resolve(ctx context.Context, domain string, timeout time.Duration) Result
}

// Default implements Resolver with net.DefaultResolver: MX lookup first,
// falling back to an A/AAAA lookup of the domain itself when no MX
// records exist but the domain itself resolves. NXDOMAIN and timeout are
// surfaced distinctly from a generic failure.
type Default struct {
	resolver *net.Resolver
}

func New() Default { return Default{resolver: net.DefaultResolver} }

func (d Default) Resolve(ctx context.Context, domain string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mxRecords, err := d.resolver.LookupMX(ctx, domain)
	if err == nil && len(mxRecords) > 0 {
		// net.Resolver returns equal-preference records in random order;
		// breaking ties by host name keeps the primary host deterministic.
		sort.SliceStable(mxRecords, func(i, j int) bool {
			if mxRecords[i].Pref != mxRecords[j].Pref {
				return mxRecords[i].Pref < mxRecords[j].Pref
			}
			return mxRecords[i].Host < mxRecords[j].Host
		})
		hosts := make([]string, 0, len(mxRecords))
		for _, mx := range mxRecords {
			hosts = append(hosts, strings.TrimSuffix(mx.Host, "."))
		}
		return Result{Status: MXFound, MailHosts: hosts}
	}

	if err != nil {
		if isTimeout(err) {
			return Result{Status: Timeout, Err: verrors.Wrap(verrors.KindDNS, err, "MX lookup timed out")}
		}
		if isNXDomain(err) {
			// Fall through: NXDOMAIN on MX does not rule out a bare A
			// record, but a true NXDOMAIN on the A lookup below will
			// propagate as NXDomain.
		}
	}

	ips, err := d.resolver.LookupIPAddr(ctx, domain)
	if err == nil && len(ips) > 0 {
		return Result{Status: FallbackARecord, MailHosts: []string{domain}}
	}
	if err != nil {
		if isTimeout(err) {
			return Result{Status: Timeout, Err: verrors.Wrap(verrors.KindDNS, err, "A lookup timed out")}
		}
		if isNXDomain(err) {
			return Result{Status: NXDomain, Err: verrors.Wrap(verrors.KindDNS, err, "domain does not exist")}
		}
		return Result{Status: Failure, Err: verrors.Wrap(verrors.KindDNS, err, "DNS lookup failed")}
	}
	return Result{Status: Failure, Err: verrors.New(verrors.KindDNS, "no MX or A records found")}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if dnsErr, ok := err.(*net.DNSError); ok {
		return dnsErr.IsTimeout
	}
	if ok := errorsAs(err, &netErr); ok {
		return netErr.Timeout()
	}
	return false
}

func isNXDomain(err error) bool {
	dnsErr, ok := err.(*net.DNSError)
	return ok && dnsErr.IsNotFound
}

// errorsAs is a tiny local shim so this file doesn't need a second
// import line purely for errors.As in one place.
func errorsAs(err error, target *net.Error) bool {
	for err != nil {
		if v, ok := err.(net.Error); ok {
			*target = v
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
