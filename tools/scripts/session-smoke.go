// Package main provides a CI-friendly smoke test for the panel session API.
//
// It validates:
//   - login and the events stream handshake (subprotocol, hello/ack)
//   - refresh rotation
//   - refresh-token replay revoking every session, pushed over the stream
//   - logout pushing session.revoked for that session
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "panel/shared/contracts/events/v1"

	"github.com/coder/websocket"
)

const (
	maxReadBytes = 64 << 10
	platform     = "desktop"
)

type session struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type stream struct {
	name  string
	conn  *websocket.Conn
	inbox chan v1.Envelope
	errCh chan error
}

var verbose bool

func main() {
	var (
		base     = flag.String("base", "http://127.0.0.1:8080", "Server base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header for the events stream")
		username = flag.String("username", os.Getenv("PANEL_SMOKE_USERNAME"), "Account username")
		password = flag.String("password", os.Getenv("PANEL_SMOKE_PASSWORD"), "Account password")
		gap      = flag.Duration("refresh-gap", 1100*time.Millisecond, "Wait before refreshing (must exceed the server's refresh min interval)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
	)
	flag.BoolVar(&verbose, "v", false, "Verbose output")
	flag.Parse()

	if err := validateBaseURL(*base); err != nil {
		fatalf("invalid -base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *username == "" || *password == "" {
		fatalf("-username and -password are required")
	}
	baseURL := strings.TrimRight(*base, "/")
	wsURL := eventsURL(baseURL)
	root := context.Background()
	hc := &http.Client{Timeout: *timeout}

	// Rotation, then replay of the rotated token.
	a := mustLogin(root, hc, baseURL, *username, *password)
	sa := mustConnect(root, "A", wsURL, *origin, a, *timeout)
	defer closeWS(sa.conn)

	time.Sleep(*gap)
	a2 := mustRefresh(root, hc, baseURL, a.RefreshToken, http.StatusOK, "")
	if a2.SessionID == a.SessionID {
		fatalf("refresh: session id not rotated (%s)", a.SessionID)
	}
	if a2.RefreshToken == "" || a2.RefreshToken == a.RefreshToken {
		fatalf("refresh: refresh token not rotated")
	}
	logf("refreshed: %s -> %s", a.SessionID, a2.SessionID)

	mustRefresh(root, hc, baseURL, a.RefreshToken, http.StatusUnauthorized, "refresh_reuse_detected")
	p := sa.mustRevoked(root, *timeout)
	if p.SessionID != "" || p.Reason != "reuse_detected" {
		fatalf("replay push: got session_id=%q reason=%q", p.SessionID, p.Reason)
	}
	mustStatus(root, hc, http.MethodGet, baseURL+"/auth/me", a2.AccessToken, http.StatusUnauthorized)

	// Logout of a fresh session.
	b := mustLogin(root, hc, baseURL, *username, *password)
	sb := mustConnect(root, "B", wsURL, *origin, b, *timeout)
	defer closeWS(sb.conn)

	mustStatus(root, hc, http.MethodPost, baseURL+"/auth/logout", b.AccessToken, http.StatusNoContent)
	p = sb.mustRevoked(root, *timeout)
	if p.SessionID != b.SessionID || p.Reason != "logout" {
		fatalf("logout push: got session_id=%q reason=%q want session_id=%q", p.SessionID, p.Reason, b.SessionID)
	}
	mustRefresh(root, hc, baseURL, b.RefreshToken, http.StatusUnauthorized, "session_not_active")

	fmt.Printf("OK: rotated=%s->%s logged_out=%s\n", a.SessionID, a2.SessionID, b.SessionID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https (got %q)", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https (got %q)", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	if u.Path != "" && u.Path != "/" {
		return errors.New("origin must not include a path")
	}
	return nil
}

func eventsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	default:
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	}
}

func mustLogin(parent context.Context, hc *http.Client, base, username, password string) session {
	body := map[string]any{
		"username":    username,
		"password":    password,
		"remember_me": false,
		"platform":    platform,
	}
	var out struct {
		Session session `json:"session"`
	}
	status, code := doJSON(parent, hc, http.MethodPost, base+"/auth/login", "", body, &out)
	if status != http.StatusOK {
		fatalf("login: status=%d code=%q", status, code)
	}
	if out.Session.AccessToken == "" || out.Session.RefreshToken == "" {
		fatalf("login: response missing tokens")
	}
	logf("login: session=%s access_expires_at=%s", out.Session.SessionID, out.Session.AccessExpiresAt.Format(time.RFC3339))
	return out.Session
}

func mustRefresh(parent context.Context, hc *http.Client, base, refreshToken string, wantStatus int, wantCode string) session {
	body := map[string]any{"refresh_token": refreshToken, "platform": platform}
	var out struct {
		Session session `json:"session"`
	}
	status, code := doJSON(parent, hc, http.MethodPost, base+"/auth/refresh", "", body, &out)
	if status != wantStatus || code != wantCode {
		fatalf("refresh: status=%d code=%q want status=%d code=%q", status, code, wantStatus, wantCode)
	}
	return out.Session
}

func mustStatus(parent context.Context, hc *http.Client, method, target, bearer string, want int) {
	status, code := doJSON(parent, hc, method, target, bearer, nil, nil)
	if status != want {
		fatalf("%s %s: status=%d code=%q want=%d", method, target, status, code, want)
	}
	logf("%s %s: %d", method, target, status)
}

// doJSON returns the HTTP status and, for error responses, the API error code.
func doJSON(parent context.Context, hc *http.Client, method, target, bearer string, in, out any) (int, string) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			fatalf("marshal request: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(parent, method, target, body)
	if err != nil {
		fatalf("build request: %v", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := hc.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fatalf("%s %s: read body: %v", method, target, err)
	}
	if resp.StatusCode >= 400 {
		var e apiError
		_ = json.Unmarshal(data, &e)
		return resp.StatusCode, e.Error.Code
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			fatalf("%s %s: decode: %v", method, target, err)
		}
	}
	return resp.StatusCode, ""
}

func mustConnect(parent context.Context, name, wsURL, origin string, s session, stepTimeout time.Duration) *stream {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Origin", origin)
	h.Set("Authorization", "Bearer "+s.AccessToken)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader:   h,
		Subprotocols: []string{v1.Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	st := &stream{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 16),
		errCh: make(chan error, 1),
	}
	st.startReadLoop()

	hello, err := v1.New(v1.TypeHello, name+"-hello", time.Now().UTC(), v1.HelloPayload{Client: "session-smoke"})
	if err != nil {
		fatalf("build hello: %v", err)
	}
	mustWriteWithTimeout(parent, conn, hello, stepTimeout)

	ack := st.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)
	var p v1.HelloAckPayload
	if err := ack.Decode(&p); err != nil {
		fatalf("unmarshal hello.ack payload (%s): %v", name, err)
	}
	if p.SessionID != s.SessionID {
		fatalf("hello.ack session mismatch (%s): got=%q want=%q", name, p.SessionID, s.SessionID)
	}
	logf("connected %s: conn=%s session=%s", name, p.ConnID, p.SessionID)
	return st
}

func (s *stream) startReadLoop() {
	go func() {
		defer close(s.inbox)
		for {
			_, data, err := s.conn.Read(context.Background())
			if err != nil {
				s.fail(err)
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				s.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				s.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}
			select {
			case s.inbox <- env:
			default:
				s.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (s *stream) fail(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *stream) mustRevoked(parent context.Context, stepTimeout time.Duration) v1.SessionRevokedPayload {
	env := s.mustReadUntilType(parent, v1.TypeSessionRevoked, stepTimeout)
	var p v1.SessionRevokedPayload
	if err := env.Decode(&p); err != nil {
		fatalf("unmarshal session.revoked (%s): %v", s.name, err)
	}
	logf("revoked %s: session=%q reason=%s", s.name, p.SessionID, p.Reason)
	return p
}

func (s *stream) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s (%s)", wantType, s.name)
		case env, ok := <-s.inbox:
			if !ok {
				select {
				case err := <-s.errCh:
					fatalf("stream %s closed waiting for %s: %v", s.name, wantType, err)
				default:
					fatalf("stream %s closed waiting for %s", s.name, wantType)
				}
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var p v1.ErrorPayload
				_ = env.Decode(&p)
				fatalf("server error on %s: %s (%s)", s.name, p.Code, p.Message)
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal %s: %v", env.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", env.Type, err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func logf(format string, args ...any) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
