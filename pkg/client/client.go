// Package client talks to a running palmd: it sends start/stop commands and
// follows the status stream.
package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-palm/internal/httpc"
	"github.com/teslashibe/go-palm/internal/log"
	"github.com/teslashibe/go-palm/pkg/history"
	"github.com/teslashibe/go-palm/pkg/protocol"
	"github.com/teslashibe/go-palm/pkg/web"
)

// DefaultServer is where palmd listens by default.
const DefaultServer = "http://localhost:5000"

// ReconnectDelay is the pause between status stream reconnects.
const ReconnectDelay = 3 * time.Second

// APIError is a non-2xx response from palmd.
type APIError = httpc.StatusError

// Client is a palmd API client.
type Client struct {
	base string
	http *http.Client

	// Dialer is used for the status stream.
	Dialer *websocket.Dialer
}

// New creates a client for the server at base ("http://host:port").
func New(base string) *Client {
	if base == "" {
		base = DefaultServer
	}
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   httpc.Client,
		Dialer: websocket.DefaultDialer,
	}
}

// StartEnroll starts a registration scan for user.
func (c *Client) StartEnroll(ctx context.Context, user string) (web.StartResponse, error) {
	return c.start(ctx, "/start_register", user)
}

// StartVerify starts a matching scan against user.
func (c *Client) StartVerify(ctx context.Context, user string) (web.StartResponse, error) {
	return c.start(ctx, "/start_match", user)
}

func (c *Client) start(ctx context.Context, path, user string) (web.StartResponse, error) {
	var resp web.StartResponse
	err := c.do(ctx, http.MethodPost, path, web.StartRequest{UserID: user}, &resp)
	return resp, err
}

// Stop cancels the active scan. It reports whether one was running.
func (c *Client) Stop(ctx context.Context) (bool, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/stop", nil, &resp); err != nil {
		return false, err
	}
	return resp.Status == "stopped", nil
}

// Status returns the daemon's current state.
func (c *Client) Status(ctx context.Context) (web.StatusResponse, error) {
	var resp web.StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp)
	return resp, err
}

// Subjects lists enrolled users.
func (c *Client) Subjects(ctx context.Context) ([]string, error) {
	var resp struct {
		Subjects []string `json:"subjects"`
	}
	err := c.do(ctx, http.MethodGet, "/api/subjects", nil, &resp)
	return resp.Subjects, err
}

// DeleteSubject removes an enrolled user along with their history. It
// returns the number of history entries removed.
func (c *Client) DeleteSubject(ctx context.Context, user string) (int64, error) {
	var resp struct {
		HistoryRemoved int64 `json:"history_removed"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/subjects/"+url.PathEscape(user), nil, &resp)
	return resp.HistoryRemoved, err
}

// History returns recent sessions, newest first.
func (c *Client) History(ctx context.Context, f history.Filter) ([]history.Entry, error) {
	q := url.Values{}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.SubjectID != "" {
		q.Set("user", f.SubjectID)
	}
	if f.Outcome != "" {
		q.Set("outcome", f.Outcome)
	}
	if f.Mode != "" {
		q.Set("mode", f.Mode)
	}

	path := "/api/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Sessions []history.Entry `json:"sessions"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Sessions, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	return httpc.DoJSON(ctx, c.http, method, c.base+path, in, out)
}

// StreamURL returns the websocket URL of the status stream.
func (c *Client) StreamURL() string {
	u := c.base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/status"
}

// Watch follows the status stream and calls fn for every event until ctx is
// done or fn returns an error. Lost connections are retried every
// ReconnectDelay; onState, if set, receives "connected" and "disconnected".
func (c *Client) Watch(ctx context.Context, fn func(protocol.StatusEvent) error, onState func(string)) error {
	if onState == nil {
		onState = func(string) {}
	}

	for {
		err := c.watchOnce(ctx, fn, onState)

		var stop stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		if ctx.Err() != nil {
			return nil
		}

		log.Debug("status stream lost", log.Err(err))
		onState("disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ReconnectDelay):
		}
	}
}

// stopError carries an error returned by the Watch callback.
type stopError struct{ err error }

func (e stopError) Error() string { return e.err.Error() }

func (c *Client) watchOnce(ctx context.Context, fn func(protocol.StatusEvent) error, onState func(string)) error {
	conn, _, err := c.Dialer.DialContext(ctx, c.StreamURL(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	onState("connected")

	// Unblock ReadMessage on cancel
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ev, err := protocol.ParseStatusEvent(data)
		if err != nil {
			log.Warn("skipping malformed status event", log.Err(err))
			continue
		}
		if err := fn(*ev); err != nil {
			return stopError{err}
		}
	}
}
