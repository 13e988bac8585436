package smtpproto

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptDialer struct{ handler func(net.Conn) }

func (d scriptDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	client, server := net.Pipe()
	go d.handler(server)
	return client, nil
}

func writeScriptLine(conn net.Conn, line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

func fullDialogueServer(rcptCode string) func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		writeScriptLine(conn, "220 mail.example.test ready")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			upper := strings.ToUpper(strings.TrimRight(line, "\r\n"))
			switch {
			case strings.HasPrefix(upper, "HELO"):
				writeScriptLine(conn, "250 Hello")
			case strings.HasPrefix(upper, "MAIL FROM"):
				writeScriptLine(conn, "250 OK")
			case strings.HasPrefix(upper, "RCPT TO"):
				writeScriptLine(conn, rcptCode)
			case strings.HasPrefix(upper, "QUIT"):
				writeScriptLine(conn, "221 Bye")
				return
			}
		}
	}
}

// dropsAfterMailFrom closes the connection as soon as MAIL FROM is read,
// never answering it, simulating a mid-dialogue transport failure.
func dropsAfterMailFrom() func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		writeScriptLine(conn, "220 mail.example.test ready")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			upper := strings.ToUpper(strings.TrimRight(line, "\r\n"))
			switch {
			case strings.HasPrefix(upper, "HELO"):
				writeScriptLine(conn, "250 Hello")
			case strings.HasPrefix(upper, "MAIL FROM"):
				return // connection dies without a response
			}
		}
	}
}

func connectedSession(t *testing.T, handler func(net.Conn)) *Session {
	t.Helper()
	transport := New("mail.example.test", WithDialer(scriptDialer{handler: handler}), WithReadTimeout(time.Second))
	require.NoError(t, transport.Connect(context.Background()))
	t.Cleanup(func() { transport.Close() })
	return NewSession(transport, "verify.test", "probe@verify.test")
}

func TestSession_Verify_FullAcceptedDialogue(t *testing.T) {
	session := connectedSession(t, fullDialogueServer("250 Accepted"))

	responses, err := session.Verify("alice@example.test")
	require.NoError(t, err)
	require.Len(t, responses, 5)

	assert.Equal(t, PhaseGreeting, responses[0].Phase)
	assert.Equal(t, PhaseHelo, responses[1].Phase)
	assert.Equal(t, PhaseMailFrom, responses[2].Phase)
	assert.Equal(t, PhaseRcptTo, responses[3].Phase)
	assert.Equal(t, 250, responses[3].Code)
	assert.Equal(t, PhaseQuit, responses[4].Phase)
	assert.Equal(t, 221, responses[4].Code)
}

func TestSession_Verify_RejectedRecipientStillReachesQuit(t *testing.T) {
	session := connectedSession(t, fullDialogueServer("550 No such user"))

	responses, err := session.Verify("nobody@example.test")
	require.NoError(t, err)
	require.Len(t, responses, 5)
	assert.Equal(t, 550, responses[3].Code)
	assert.Equal(t, "No such user", responses[3].Message)
	assert.Equal(t, PhaseQuit, responses[len(responses)-1].Phase)
}

func TestSession_Verify_MidDialogueFailureStillReturnsPartialResponsesAndError(t *testing.T) {
	session := connectedSession(t, dropsAfterMailFrom())

	responses, err := session.Verify("alice@example.test")
	require.Error(t, err)
	// Greeting and HELO were answered before the connection died on
	// MAIL FROM, and the synthetic QUIT entry records the failed QUIT
	// attempt.
	require.GreaterOrEqual(t, len(responses), 2)
	last := responses[len(responses)-1]
	assert.Equal(t, PhaseQuit, last.Phase)
	assert.Equal(t, NoResponseCode, last.Code)
}

func TestSession_Verify_ConnectionNeverEstablished(t *testing.T) {
	transport := New("mail.example.test", WithDialer(scriptDialer{handler: func(net.Conn) {}}), WithReadTimeout(time.Second))
	// Deliberately skip Connect: SendCommand/ReadResponse must fail cleanly.
	session := NewSession(transport, "verify.test", "probe@verify.test")

	responses, err := session.Verify("alice@example.test")
	assert.Error(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, PhaseQuit, responses[0].Phase)
	assert.Equal(t, NoResponseCode, responses[0].Code)
}
