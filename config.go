package emailverify

import (
	"time"

	"emailverify/internal/smtpproto"
)

// Config is the configuration surface for a Pipeline. Fields left at
// their zero value are replaced by New with the documented defaults.
type Config struct {
	// HeloDomain and MailFrom are required: the identity the dialogue
	// presents to every mail server it probes.
	HeloDomain string
	MailFrom   string

	DNSTimeout         time.Duration // default 5s
	SMTPConnectTimeout time.Duration // default 10s
	SMTPReadTimeout    time.Duration // default 15s

	ProbeCount     int           // default 2, clamped to [1,5]
	CachingEnabled *bool         // default true
	CacheTTL       time.Duration // default 1h
	MaxCacheSize   int           // default 10000

	// SMTPPort overrides the default port 25.
	SMTPPort int

	// ProxyDialer, if set, routes every outbound SMTP connection (both
	// the primary dialogue and catch-all probes) through it — see
	// internal/smtpproto.NewSOCKS5Dialer.
	ProxyDialer Dialer
}

// Dialer re-exports the transport's dial abstraction so callers can
// build a SOCKS5 dialer without reaching into internal packages.
type Dialer = smtpproto.Dialer

// NewSOCKS5Dialer builds a Dialer that routes outbound SMTP connections
// through a SOCKS5 proxy, optionally authenticated.
func NewSOCKS5Dialer(proxyAddr, username, password string) (Dialer, error) {
	return smtpproto.NewSOCKS5Dialer(proxyAddr, username, password)
}

func withDefaults(cfg Config) Config {
	if cfg.DNSTimeout == 0 {
		cfg.DNSTimeout = 5 * time.Second
	}
	if cfg.SMTPConnectTimeout == 0 {
		cfg.SMTPConnectTimeout = 10 * time.Second
	}
	if cfg.SMTPReadTimeout == 0 {
		cfg.SMTPReadTimeout = 15 * time.Second
	}
	if cfg.ProbeCount == 0 {
		cfg.ProbeCount = 2
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxCacheSize == 0 {
		cfg.MaxCacheSize = 10000
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 25
	}
	return cfg
}
