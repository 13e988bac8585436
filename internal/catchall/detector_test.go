package catchall

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emailverify/internal/smtpproto"
)

// fakeDialer hands back one end of an in-memory net.Pipe per dial and
// runs handler against the other end, avoiding any real network I/O.
type fakeDialer struct {
	handler func(net.Conn)
	dials   int
}

func (d *fakeDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	d.dials++
	client, server := net.Pipe()
	go d.handler(server)
	return client, nil
}

type failingDialer struct{}

func (failingDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	return nil, errors.New("connection refused")
}

// rcptScript drives a server that answers HELO/MAIL FROM with 250 and
// RCPT TO with the next code in sequence (repeating the last one once
// exhausted), then 221 on QUIT.
func rcptScript(codes ...string) func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		idx := 0

		writeLine(conn, "220 mail.example.test ESMTP ready")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			upper := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(upper, "HELO"):
				writeLine(conn, "250 Hello")
			case strings.HasPrefix(upper, "MAIL FROM"):
				writeLine(conn, "250 OK")
			case strings.HasPrefix(upper, "RCPT TO"):
				code := "250 OK"
				if idx < len(codes) {
					code = codes[idx]
				} else if len(codes) > 0 {
					code = codes[len(codes)-1]
				}
				idx++
				writeLine(conn, code)
			case strings.HasPrefix(upper, "QUIT"):
				writeLine(conn, "221 Bye")
				return
			default:
				writeLine(conn, "500 unrecognized command")
			}
		}
	}
}

func writeLine(conn net.Conn, line string) {
	_, _ = conn.Write([]byte(line + "\r\n"))
}

func newTestDetector(t *testing.T, dialer smtpproto.Dialer) *Detector {
	t.Helper()
	return New(Config{
		HeloDomain: "verify.test",
		MailFrom:   "probe@verify.test",
		ProbeCount: 2,
		TransportOpts: []smtpproto.Option{
			smtpproto.WithDialer(dialer),
			smtpproto.WithConnectTimeout(time.Second),
			smtpproto.WithReadTimeout(time.Second),
		},
	})
}

func primaryRcpt(code int) []smtpproto.Response {
	return []smtpproto.Response{
		{Code: 220, Phase: smtpproto.PhaseGreeting},
		{Code: 250, Phase: smtpproto.PhaseHelo},
		{Code: 250, Phase: smtpproto.PhaseMailFrom},
		{Code: code, Phase: smtpproto.PhaseRcptTo},
	}
}

func TestDetect_NoRcptInPrimaryResponses(t *testing.T) {
	d := newTestDetector(t, &fakeDialer{})
	result := d.Detect(context.Background(), nil, "example.test", "mail.example.test")
	assert.Equal(t, Indetermin, result.Confidence)
}

func TestDetect_PrimaryRejected_NotDetectedWithoutProbing(t *testing.T) {
	dialer := &fakeDialer{}
	d := newTestDetector(t, dialer)

	result := d.Detect(context.Background(), primaryRcpt(550), "example.test", "mail.example.test")
	assert.Equal(t, NotDetected, result.Confidence)
	assert.Equal(t, 0, dialer.dials, "a 5xx primary RCPT_TO must short-circuit without opening a probe session")
}

func TestDetect_AmbiguousPrimaryCode_Indeterminate(t *testing.T) {
	dialer := &fakeDialer{}
	d := newTestDetector(t, dialer)

	result := d.Detect(context.Background(), primaryRcpt(354), "example.test", "mail.example.test")
	assert.Equal(t, Indetermin, result.Confidence)
	assert.Equal(t, 0, dialer.dials)
}

func TestDetect_AllProbesAccepted_Confirmed(t *testing.T) {
	dialer := &fakeDialer{handler: rcptScript("250 OK", "250 OK")}
	d := newTestDetector(t, dialer)

	result := d.Detect(context.Background(), primaryRcpt(250), "example.test", "mail.example.test")
	assert.Equal(t, Confirmed, result.Confidence)
	assert.Equal(t, 1, dialer.dials)
}

func TestDetect_OneProbeRejected_NotDetected(t *testing.T) {
	dialer := &fakeDialer{handler: rcptScript("250 OK", "550 No such user")}
	d := newTestDetector(t, dialer)

	result := d.Detect(context.Background(), primaryRcpt(250), "example.test", "mail.example.test")
	assert.Equal(t, NotDetected, result.Confidence)
}

func TestDetect_ProbeSessionConnectFailure_Suspected(t *testing.T) {
	d := newTestDetector(t, failingDialer{})

	result := d.Detect(context.Background(), primaryRcpt(250), "example.test", "mail.example.test")
	assert.Equal(t, Suspected, result.Confidence)
}

func TestDetect_ConfirmedResultIsCachedAcrossCalls(t *testing.T) {
	dialer := &fakeDialer{handler: rcptScript("250 OK", "250 OK")}
	d := newTestDetector(t, dialer)

	first := d.Detect(context.Background(), primaryRcpt(250), "example.test", "mail.example.test")
	second := d.Detect(context.Background(), primaryRcpt(250), "example.test", "mail.example.test")

	require.Equal(t, Confirmed, first.Confidence)
	assert.Equal(t, Confirmed, second.Confidence)
	assert.Equal(t, 1, dialer.dials, "a cached domain must not trigger a second probe session")
}

func TestDetect_DifferentDomainsProbeIndependently(t *testing.T) {
	dialer := &fakeDialer{handler: rcptScript("250 OK", "250 OK")}
	d := newTestDetector(t, dialer)

	d.Detect(context.Background(), primaryRcpt(250), "a.test", "mail.a.test")
	d.Detect(context.Background(), primaryRcpt(250), "b.test", "mail.b.test")

	assert.Equal(t, 2, dialer.dials)
}
