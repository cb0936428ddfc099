package mailer_test

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvestflow/internal/mailer"
)

// fakeSMTP accepts a single session without TLS or AUTH and returns the DATA
// payload it received.
func fakeSMTP(t *testing.T) (host string, port int, got <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		write := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

		write("220 localhost ESMTP")
		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					out <- data.String()
					write("250 queued")
					continue
				}
				data.WriteString(line)
				continue
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				write("250-localhost")
				write("250 8BITMIME")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				write("250 ok")
			case cmd == "DATA":
				inData = true
				write("354 go ahead")
			case cmd == "QUIT":
				write("221 bye")
				return
			default:
				write("250 ok")
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port, out
}

func TestSMTP_Send(t *testing.T) {
	t.Parallel()
	host, port, got := fakeSMTP(t)

	m, err := mailer.NewSMTP(mailer.Config{Host: host, Port: port, From: "shop@example.com"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	delivered, err := m.Send(ctx, mailer.Message{To: "buyer@example.com", Subject: "Welcome", Body: "hi", HTMLBody: "<b>hi</b>"})
	require.NoError(t, err)
	assert.True(t, delivered)

	select {
	case body := <-got:
		assert.Contains(t, body, "To: buyer@example.com")
		assert.Contains(t, body, "multipart/alternative")
	case <-time.After(2 * time.Second):
		t.Fatal("server received nothing")
	}
}

func TestSMTP_Unreachable(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	m, err := mailer.NewSMTP(mailer.Config{Host: "127.0.0.1", Port: port, User: "u", Password: "p"})
	require.NoError(t, err)
	delivered, err := m.Send(context.Background(), mailer.Message{To: "x@example.com", Subject: "s", Body: "b"})
	assert.False(t, delivered)
	assert.ErrorIs(t, err, mailer.ErrFailedToSend)
}

func TestNew_FallsBackToConsole(t *testing.T) {
	t.Parallel()
	m, err := mailer.New(mailer.Config{Host: "smtp.example.com"})
	require.NoError(t, err)
	require.IsType(t, mailer.Console{}, m)

	delivered, err := m.Send(context.Background(), mailer.Message{To: "x@example.com", Subject: "s"})
	require.NoError(t, err)
	assert.False(t, delivered)

	_, err = m.Send(context.Background(), mailer.Message{})
	assert.ErrorIs(t, err, mailer.ErrNoRecipient)

	m, err = mailer.New(mailer.Config{Host: "smtp.example.com", User: "u", Password: "p"})
	require.NoError(t, err)
	assert.IsType(t, &mailer.SMTP{}, m)

	_, err = mailer.NewSMTP(mailer.Config{Host: "h", Port: 70000})
	assert.ErrorIs(t, err, mailer.ErrInvalidSMTPPort)
}
