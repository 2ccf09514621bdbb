package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/omnivibe/wavelink/pkg/protocol"
)

// Long-polling endpoints, the degraded transport behind WebSocket.
const (
	pollConnectPath    = "/poll/connect"
	pollEventsPath     = "/poll/events"
	pollSendPath       = "/poll/send"
	pollDisconnectPath = "/poll/disconnect"

	// pollWait bounds one long-poll request; the server is expected to
	// hold the request open up to roughly this long.
	pollWait = 25 * time.Second
)

// pollTransport emulates the persistent connection over plain HTTP: one
// connect call establishes a server-side session, then Recv long-polls
// for batched events and Send posts commands.
type pollTransport struct {
	base      url.URL
	client    *http.Client
	sessionID string

	ctx    context.Context
	cancel context.CancelFunc

	queue []protocol.Event
}

type pollConnectRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type pollConnectResponse struct {
	SessionID string `json:"sessionId"`
}

// dialLongPoll establishes a polling session with the fallback endpoint.
func dialLongPoll(host string, id Identity, timeout time.Duration, useTLS bool) (Transport, error) {
	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	base := url.URL{Scheme: scheme, Host: host}

	ctx, cancel := context.WithCancel(context.Background())
	t := &pollTransport{
		base:   base,
		client: &http.Client{Timeout: pollWait + 5*time.Second},
		ctx:    ctx,
		cancel: cancel,
	}

	body, err := json.Marshal(pollConnectRequest{UserID: id.UserID, Username: id.Username, Token: id.Token})
	if err != nil {
		cancel()
		return nil, err
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, timeout)
	defer connectCancel()

	resp, err := t.post(connectCtx, pollConnectPath, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("poll connect failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		cancel()
		return nil, fmt.Errorf("poll connect failed: HTTP %d", resp.StatusCode)
	}

	var connected pollConnectResponse
	if err := json.NewDecoder(resp.Body).Decode(&connected); err != nil {
		cancel()
		return nil, fmt.Errorf("poll connect: malformed response: %w", err)
	}
	if connected.SessionID == "" {
		cancel()
		return nil, fmt.Errorf("poll connect: server returned no session id")
	}

	t.sessionID = connected.SessionID
	return t, nil
}

func (t *pollTransport) Recv() (protocol.Event, error) {
	for {
		if len(t.queue) > 0 {
			ev := t.queue[0]
			t.queue = t.queue[1:]
			return ev, nil
		}

		batch, err := t.poll()
		if err != nil {
			return nil, err
		}
		t.queue = append(t.queue, batch...)
	}
}

// poll issues one long-poll request and decodes the returned batch. An
// empty batch is normal when the server timed the request out.
func (t *pollTransport) poll() ([]protocol.Event, error) {
	u := t.base
	u.Path = pollEventsPath
	q := u.Query()
	q.Set("session", t.sessionID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if t.ctx.Err() != nil {
			return nil, ErrTransportClosed
		}
		return nil, fmt.Errorf("poll request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll request: HTTP %d", resp.StatusCode)
	}

	var envelopes []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&envelopes); err != nil {
		return nil, fmt.Errorf("poll batch: malformed response: %w", err)
	}

	events := make([]protocol.Event, 0, len(envelopes))
	for _, raw := range envelopes {
		ev, err := protocol.DecodeEvent(raw)
		if err != nil {
			// Skip frames we cannot decode; the rest of the batch is fine.
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (t *pollTransport) Send(cmd protocol.Command) error {
	raw, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	resp, err := t.post(t.ctx, pollSendPath, raw)
	if err != nil {
		if t.ctx.Err() != nil {
			return ErrTransportClosed
		}
		return fmt.Errorf("poll send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("poll send: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (t *pollTransport) Close() error {
	if t.ctx.Err() != nil {
		return nil
	}

	// Best-effort server-side cleanup before cancelling the context.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if resp, err := t.post(ctx, pollDisconnectPath, nil); err == nil {
		resp.Body.Close()
	}

	t.cancel()
	return nil
}

func (t *pollTransport) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	u := t.base
	u.Path = path
	if t.sessionID != "" {
		q := u.Query()
		q.Set("session", t.sessionID)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.client.Do(req)
}

func (t *pollTransport) Scheme() string { return "poll" }
