package smtpprobe

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ignite/campaign-engine/internal/pkg/httpretry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	records []*net.MX
	err     error
}

func (s stubResolver) LookupMX(context.Context, string) ([]*net.MX, error) {
	return s.records, s.err
}

// fakeMX is a minimal SMTP server that accepts RCPT TO only for the given
// mailboxes.
func fakeMX(t *testing.T, accept map[string]bool) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSMTP(conn, accept)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func serveSMTP(conn net.Conn, accept map[string]bool) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	write := func(s string) { conn.Write([]byte(s + "\r\n")) }
	write("220 mx.test ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			write("250 mx.test")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			write("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO"):
			addr := strings.ToLower(strings.Trim(strings.TrimPrefix(cmd, "RCPT TO:"), "<> "))
			if accept[addr] {
				write("250 OK")
			} else {
				write("550 5.1.1 no such user")
			}
		case strings.HasPrefix(cmd, "QUIT"):
			write("221 bye")
			return
		default:
			write("502 not implemented")
		}
	}
}

func TestDirect_AcceptsAndRejects(t *testing.T) {
	port := fakeMX(t, map[string]bool{"alice@example.test": true})
	d := NewDirect(stubResolver{records: []*net.MX{{Host: "127.0.0.1.", Pref: 10}}}, "probe.local", "")
	d.port = port

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := d.Verify(ctx, "alice@example.test")
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = d.Verify(ctx, "bob@example.test")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Reason, "550")
}

func TestDirect_NoMX(t *testing.T) {
	d := NewDirect(stubResolver{}, "probe.local", "")

	res, err := d.Verify(context.Background(), "x@nowhere.test")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "no mx records", res.Reason)
}

func TestDirect_MalformedAddress(t *testing.T) {
	d := NewDirect(stubResolver{}, "probe.local", "")

	res, err := d.Verify(context.Background(), "not-an-email")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestDirect_DialFailureIsAnError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	d := NewDirect(stubResolver{records: []*net.MX{{Host: "127.0.0.1", Pref: 1}}}, "probe.local", "")
	d.port = port

	_, err = d.Verify(context.Background(), "a@b.test")
	assert.Error(t, err)
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k1", r.Header.Get("Authorization"))
		var req probeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(10000), req.TimeoutMs)
		valid := strings.HasPrefix(req.Email, "ok")
		json.NewEncoder(w).Encode(map[string]any{"valid": valid, "reason": "checked " + strconv.FormatBool(valid)})
	}))
	defer srv.Close()

	client := httpretry.NewRetryClient(srv.Client(), 1, httpretry.WithBackoff(time.Millisecond, time.Millisecond))
	p := NewHTTPProber(client, srv.URL, "k1", 10*time.Second)

	res, err := p.Verify(context.Background(), "ok@x.test")
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = p.Verify(context.Background(), "nope@x.test")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "checked false", res.Reason)
}

func TestHTTPProber_ServerErrorIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.Client(), srv.URL, "", time.Second)
	_, err := p.Verify(context.Background(), "a@b.test")
	assert.Error(t, err)
}
