// Package smtpproto implements the one-connection SMTP transport and the
// phase-driven dialogue session built on top of it.
package smtpproto

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"emailverify/internal/obslog"
	"emailverify/internal/verrors"
)

const (
	DefaultPort           = 25
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 15 * time.Second
)

// Dialer abstracts how the transport reaches the mail host. The default
// is a plain net.Dialer; callers that need to protect a sending IP's
// reputation during bulk verification can supply a SOCKS5 dialer built
// with golang.org/x/net/proxy.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewSOCKS5Dialer builds a Dialer that routes outbound SMTP connections
// through a SOCKS5 proxy, optionally authenticated.
func NewSOCKS5Dialer(proxyAddr, username, password string) (Dialer, error) {
	var auth *proxy.Auth
	if username != "" {
		auth = &proxy.Auth{User: username, Password: password}
	}
	d, err := proxy.SOCKS5("tcp", proxyAddr, auth, proxy.Direct)
	if err != nil {
		return nil, verrors.Wrap(verrors.KindTransport, err, "build SOCKS5 dialer")
	}
	if ctxDialer, ok := d.(proxy.ContextDialer); ok {
		return contextDialerAdapter{ctxDialer}, nil
	}
	return plainDialerAdapter{d}, nil
}

type contextDialerAdapter struct{ d proxy.ContextDialer }

func (a contextDialerAdapter) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return a.d.DialContext(ctx, network, address)
}

type plainDialerAdapter struct{ d proxy.Dialer }

func (a plainDialerAdapter) DialContext(_ context.Context, network, address string) (net.Conn, error) {
	return a.d.Dial(network, address)
}

type defaultDialer struct{}

func (defaultDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d := &net.Dialer{}
	return d.DialContext(ctx, network, address)
}

// Transport is a scoped handle bound to (host, port). Connect must
// succeed before SendCommand/ReadResponse are used. Close is safe to
// call multiple times and never panics.
type Transport struct {
	host string
	port int

	dialer         Dialer
	connectTimeout time.Duration
	readTimeout    time.Duration

	conn   net.Conn
	reader *bufio.Reader
	closed bool
}

// Option configures a Transport at construction time.
type Option func(*Transport)

func WithPort(port int) Option { return func(t *Transport) { t.port = port } }

func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transport) { t.connectTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(t *Transport) { t.readTimeout = d }
}

func WithDialer(d Dialer) Option { return func(t *Transport) { t.dialer = d } }

// New creates a Transport bound to host, not yet connected.
func New(host string, opts ...Option) *Transport {
	t := &Transport{
		host:           host,
		port:           DefaultPort,
		dialer:         defaultDialer{},
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect dials the mail host. On failure the Transport remains usable
// for Close (a no-op) but SendCommand/ReadResponse will fail.
func (t *Transport) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port))

	ctx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()

	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return verrors.Wrap(verrors.KindTransport, err, fmt.Sprintf("connect to %s", addr))
	}
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	obslog.Default().WithField("host", addr).Debug("smtp transport connected")
	return nil
}

// SendCommand writes line terminated with CRLF regardless of the
// caller's own line ending.
func (t *Transport) SendCommand(line string) error {
	if t.conn == nil || t.closed {
		return verrors.New(verrors.KindTransport, "NOT_CONNECTED")
	}
	line = strings.TrimRight(line, "\r\n")
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.readTimeout)); err != nil {
		return verrors.Wrap(verrors.KindTransport, err, "set write deadline")
	}
	if _, err := t.conn.Write([]byte(line + "\r\n")); err != nil {
		return verrors.Wrap(verrors.KindTransport, err, fmt.Sprintf("write to %s", t.addr()))
	}
	return nil
}

// ReadResponse reassembles a (possibly multi-line) SMTP response and
// returns its raw text, CRLFs stripped, continuation lines joined by
// "\n". A line whose 4th character is a space terminates the response;
// a line shorter than 4 characters also terminates it (treated as the
// final line).
func (t *Transport) ReadResponse() (string, error) {
	if t.conn == nil || t.closed {
		return "", verrors.New(verrors.KindTransport, "NOT_CONNECTED")
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
		return "", verrors.Wrap(verrors.KindTransport, err, "set read deadline")
	}

	var lines []string
	for {
		raw, err := t.reader.ReadString('\n')
		if raw == "" && err != nil {
			if len(lines) > 0 {
				break
			}
			return "", verrors.Wrap(verrors.KindTransport, err, fmt.Sprintf("read from %s", t.addr()))
		}
		line := strings.TrimRight(raw, "\r\n")
		lines = append(lines, line)

		if len(line) < 4 {
			break
		}
		if line[3] == ' ' {
			break
		}
		if line[3] != '-' {
			break
		}
		if err != nil {
			break
		}
	}
	return joinResponseLines(lines), nil
}

func joinResponseLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	if len(lines) == 1 {
		return lines[0]
	}
	// Continuation lines repeat the code; keep the first line's code and
	// fold the message bodies together with "\n".
	code := ""
	if len(lines[0]) >= 3 {
		code = lines[0][:3]
	}
	var bodies []string
	for _, l := range lines {
		if len(l) > 4 {
			bodies = append(bodies, strings.TrimSpace(l[4:]))
		} else if len(l) >= 3 {
			bodies = append(bodies, "")
		}
	}
	if code == "" {
		return strings.Join(lines, "\n")
	}
	return code + " " + strings.Join(bodies, "\n")
}

func (t *Transport) addr() string {
	return net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port))
}

// Close flushes and closes the socket exactly once. Subsequent
// SendCommand/ReadResponse calls fail with NOT_CONNECTED. Close never
// returns an error that the caller is obligated to handle — it is meant
// to be deferred unconditionally.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
