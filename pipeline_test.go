package emailverify

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emailverify/internal/catchall"
	"emailverify/internal/dnslookup"
	"emailverify/internal/smtpproto"
	"emailverify/internal/syntaxcheck"
)

type fakeValidator struct{ result syntaxcheck.Result }

func (f fakeValidator) Validate(string) syntaxcheck.Result { return f.result }

type fakeResolver struct{ result dnslookup.Result }

func (f fakeResolver) Resolve(context.Context, string, time.Duration) dnslookup.Result {
	return f.result
}

type pipeDialer struct{ handler func(net.Conn) }

func (d pipeDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	client, server := net.Pipe()
	go d.handler(server)
	return client, nil
}

type failDialer struct{}

func (failDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, errAlwaysFails
}

var errAlwaysFails = &net.OpError{Op: "dial", Err: errDialRefused{}}

type errDialRefused struct{}

func (errDialRefused) Error() string { return "connection refused" }

func writePipeLine(conn net.Conn, line string) {
	_, _ = conn.Write([]byte(line + "\r\n"))
}

// scriptedMailServer answers HELO and MAIL FROM unconditionally and hands
// out rcptCodes to successive RCPT TO commands in order (across however
// many connections are dialed), clamping to the last code once exhausted.
func scriptedMailServer(rcptCodes []string) func(net.Conn) {
	var mu sync.Mutex
	counter := 0
	next := func() string {
		mu.Lock()
		defer mu.Unlock()
		if len(rcptCodes) == 0 {
			return "250 OK"
		}
		if counter >= len(rcptCodes) {
			counter = len(rcptCodes) - 1
		}
		code := rcptCodes[counter]
		counter++
		return code
	}

	return func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		writePipeLine(conn, "220 mail.example.test ESMTP ready")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			upper := strings.ToUpper(strings.TrimRight(line, "\r\n"))
			switch {
			case strings.HasPrefix(upper, "HELO"):
				writePipeLine(conn, "250 Hello")
			case strings.HasPrefix(upper, "MAIL FROM"):
				writePipeLine(conn, "250 OK")
			case strings.HasPrefix(upper, "RCPT TO"):
				writePipeLine(conn, next())
			case strings.HasPrefix(upper, "QUIT"):
				writePipeLine(conn, "221 Bye")
				return
			default:
				writePipeLine(conn, "500 unrecognized command")
			}
		}
	}
}

// dropsFirstQuit behaves like scriptedMailServer except the very first
// QUIT across all connections gets no response at all: the server just
// closes the socket, simulating a connection drop during the final
// round trip after RCPT_TO already answered.
func dropsFirstQuit(rcptCodes []string) func(net.Conn) {
	var mu sync.Mutex
	counter := 0
	firstQuitDropped := false
	next := func() string {
		mu.Lock()
		defer mu.Unlock()
		if counter >= len(rcptCodes) {
			counter = len(rcptCodes) - 1
		}
		code := rcptCodes[counter]
		counter++
		return code
	}

	return func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		writePipeLine(conn, "220 mail.example.test ESMTP ready")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			upper := strings.ToUpper(strings.TrimRight(line, "\r\n"))
			switch {
			case strings.HasPrefix(upper, "HELO"):
				writePipeLine(conn, "250 Hello")
			case strings.HasPrefix(upper, "MAIL FROM"):
				writePipeLine(conn, "250 OK")
			case strings.HasPrefix(upper, "RCPT TO"):
				writePipeLine(conn, next())
			case strings.HasPrefix(upper, "QUIT"):
				mu.Lock()
				drop := !firstQuitDropped
				firstQuitDropped = true
				mu.Unlock()
				if drop {
					return
				}
				writePipeLine(conn, "221 Bye")
				return
			default:
				writePipeLine(conn, "500 unrecognized command")
			}
		}
	}
}

func testPipeline(dialer smtpproto.Dialer, validator syntaxcheck.Validator, resolver dnslookup.Resolver) *Pipeline {
	detector := catchall.New(catchall.Config{
		HeloDomain: "verify.test",
		MailFrom:   "probe@verify.test",
		ProbeCount: 1,
		TransportOpts: []smtpproto.Option{
			smtpproto.WithDialer(dialer),
			smtpproto.WithConnectTimeout(time.Second),
			smtpproto.WithReadTimeout(time.Second),
		},
	})
	cfg := Config{
		HeloDomain:         "verify.test",
		MailFrom:           "probe@verify.test",
		SMTPConnectTimeout: time.Second,
		SMTPReadTimeout:    time.Second,
		ProxyDialer:        dialer,
	}
	return newForTest(cfg, validator, resolver, detector)
}

func TestVerify_InvalidSyntaxNeverReachesDNS(t *testing.T) {
	resolver := fakeResolver{}
	p := testPipeline(failDialer{}, fakeValidator{result: syntaxcheck.Result{Valid: false, Message: "bad"}}, resolver)

	result := p.Verify(context.Background(), "not-an-email")
	assert.Equal(t, StatusInvalid, result.Status)
	assert.False(t, result.SyntaxValid)
	assert.False(t, result.DomainResolvable)
}

func TestVerify_UnresolvableDomainNeverReachesSMTP(t *testing.T) {
	validator := fakeValidator{result: syntaxcheck.Result{Valid: true, Domain: "nowhere.test"}}
	resolver := fakeResolver{result: dnslookup.Result{Status: dnslookup.NXDomain}}
	p := testPipeline(failDialer{}, validator, resolver)

	result := p.Verify(context.Background(), "alice@nowhere.test")
	assert.Equal(t, StatusInvalid, result.Status)
	assert.True(t, result.SyntaxValid)
	assert.False(t, result.DomainResolvable)
}

func TestVerify_TransportFailureBeforeRcptIsUnknown(t *testing.T) {
	validator := fakeValidator{result: syntaxcheck.Result{Valid: true, Domain: "example.test"}}
	resolver := fakeResolver{result: dnslookup.Result{Status: dnslookup.MXFound, MailHosts: []string{"mail.example.test"}}}
	p := testPipeline(failDialer{}, validator, resolver)

	result := p.Verify(context.Background(), "alice@example.test")
	assert.Equal(t, StatusUnknown, result.Status)
	assert.True(t, result.DomainResolvable)
	assert.False(t, result.SMTPAccepted)
}

func TestVerify_RcptRejectedIsInvalidAndSkipsCatchAllProbing(t *testing.T) {
	validator := fakeValidator{result: syntaxcheck.Result{Valid: true, Domain: "example.test"}}
	resolver := fakeResolver{result: dnslookup.Result{Status: dnslookup.MXFound, MailHosts: []string{"mail.example.test"}}}
	dialer := pipeDialer{handler: scriptedMailServer([]string{"550 No such user"})}
	p := testPipeline(dialer, validator, resolver)

	result := p.Verify(context.Background(), "nobody@example.test")
	assert.Equal(t, StatusInvalid, result.Status)
	assert.Equal(t, 550, result.SMTPCode)
	assert.Equal(t, catchall.NotDetected, result.CatchAllConfidence)
}

func TestVerify_AcceptedWithSelectiveProbeIsValid(t *testing.T) {
	validator := fakeValidator{result: syntaxcheck.Result{Valid: true, Domain: "example.test"}}
	resolver := fakeResolver{result: dnslookup.Result{Status: dnslookup.MXFound, MailHosts: []string{"mail.example.test"}}}
	dialer := pipeDialer{handler: scriptedMailServer([]string{"250 OK", "550 No such user"})}
	p := testPipeline(dialer, validator, resolver)

	result := p.Verify(context.Background(), "alice@example.test")
	require.Equal(t, StatusValid, result.Status)
	assert.True(t, result.SMTPAccepted)
	assert.Equal(t, catchall.NotDetected, result.CatchAllConfidence)
}

func TestVerify_AcceptedWithAllProbesAcceptedIsCatchAll(t *testing.T) {
	validator := fakeValidator{result: syntaxcheck.Result{Valid: true, Domain: "example.test"}}
	resolver := fakeResolver{result: dnslookup.Result{Status: dnslookup.MXFound, MailHosts: []string{"mail.example.test"}}}
	dialer := pipeDialer{handler: scriptedMailServer([]string{"250 OK", "250 OK"})}
	p := testPipeline(dialer, validator, resolver)

	result := p.Verify(context.Background(), "anyone@example.test")
	assert.Equal(t, StatusCatchAll, result.Status)
	assert.Equal(t, catchall.Confirmed, result.CatchAllConfidence)
}

func TestVerify_TransientRcptCodeIsUnknownAndTransient(t *testing.T) {
	validator := fakeValidator{result: syntaxcheck.Result{Valid: true, Domain: "example.test"}}
	resolver := fakeResolver{result: dnslookup.Result{Status: dnslookup.MXFound, MailHosts: []string{"mail.example.test"}}}
	dialer := pipeDialer{handler: scriptedMailServer([]string{"450 try again later"})}
	p := testPipeline(dialer, validator, resolver)

	result := p.Verify(context.Background(), "alice@example.test")
	assert.Equal(t, StatusUnknown, result.Status)
	assert.True(t, result.IsTransient())
	assert.Equal(t, 450, result.SMTPCode)
}

// A connection drop during the final QUIT, after RCPT_TO already
// answered 250, must not erase that acceptance and fall back to
// StatusUnknown.
func TestVerify_QuitFailureAfterRcptAcceptedPreservesVerdict(t *testing.T) {
	validator := fakeValidator{result: syntaxcheck.Result{Valid: true, Domain: "example.test"}}
	resolver := fakeResolver{result: dnslookup.Result{Status: dnslookup.MXFound, MailHosts: []string{"mail.example.test"}}}
	dialer := pipeDialer{handler: dropsFirstQuit([]string{"250 OK", "550 No such user"})}
	p := testPipeline(dialer, validator, resolver)

	result := p.Verify(context.Background(), "alice@example.test")
	require.NotEqual(t, StatusUnknown, result.Status)
	assert.Equal(t, StatusValid, result.Status)
	assert.True(t, result.SMTPAccepted)
	assert.Equal(t, 250, result.SMTPCode)
}
