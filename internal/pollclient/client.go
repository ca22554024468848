// Package pollclient is a Go client for the flint signaling API. It wraps
// the long-polling wire protocol (join, poll, signal, keepalive) behind
// typed methods so native peers can rendezvous with browser peers.
package pollclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/flintlabs/flint/internal/protocol"
)

// ErrPeerNotFound mirrors the broker's 404: the polling peer aged out (or
// the broker lost its state), or a signal's receiver is gone. Pollers
// should rejoin; signalers should drop the receiver.
var ErrPeerNotFound = errors.New("peer not found")

// errorBodyLimit bounds how much of an error response is read into the
// returned error text.
const errorBodyLimit = 4096

// Client is a joined peer's handle on one room of a broker. It is not safe
// for concurrent use; each peer should own its Client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	room       string
	peerID     protocol.PeerID
}

type envelope struct {
	PeerID string   `json:"peer_id"`
	Events []string `json:"events"`
}

// Join enters room on the broker at baseURL and returns the events
// delivered with the join response (at least the peer's own IdAssigned).
// A nil httpClient uses http.DefaultClient.
func Join(ctx context.Context, httpClient *http.Client, baseURL, room string) (*Client, []protocol.Event, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		room:       room,
	}

	env, err := c.getEnvelope(ctx, c.baseURL+"/"+url.PathEscape(room))
	if err != nil {
		return nil, nil, err
	}
	id, err := protocol.ParsePeerID(env.PeerID)
	if err != nil {
		return nil, nil, fmt.Errorf("join response peer_id: %w", err)
	}
	events, err := protocol.ParseEventStrings(env.Events)
	if err != nil {
		return nil, nil, fmt.Errorf("join response events: %w", err)
	}
	c.peerID = id
	return c, events, nil
}

// PeerID returns the broker-assigned identity of this client.
func (c *Client) PeerID() protocol.PeerID { return c.peerID }

// Room returns the room this client joined.
func (c *Client) Room() string { return c.room }

// Poll drains this peer's queued events and refreshes its liveness. An
// empty slice is normal and means nothing arrived since the last poll.
func (c *Client) Poll(ctx context.Context) ([]protocol.Event, error) {
	target := c.baseURL + "/poll/" + url.PathEscape(c.room) + "?peer_id=" + url.QueryEscape(c.peerID.String())
	env, err := c.getEnvelope(ctx, target)
	if err != nil {
		return nil, err
	}
	events, err := protocol.ParseEventStrings(env.Events)
	if err != nil {
		return nil, fmt.Errorf("poll response events: %w", err)
	}
	return events, nil
}

// Signal queues an opaque payload for receiver. Payloads from one sender
// are delivered in order once the receiver polls.
func (c *Client) Signal(ctx context.Context, receiver protocol.PeerID, data json.RawMessage) error {
	body, err := protocol.MarshalRequest(protocol.SignalRequest{Receiver: receiver, Data: data})
	if err != nil {
		return err
	}
	return c.post(ctx, body)
}

// KeepAlive refreshes this peer's liveness without draining its queue.
func (c *Client) KeepAlive(ctx context.Context) error {
	body, err := protocol.MarshalRequest(protocol.KeepAliveRequest{})
	if err != nil {
		return err
	}
	return c.post(ctx, body)
}

func (c *Client) getEnvelope(ctx context.Context, target string) (envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return envelope{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return envelope{}, responseError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("decode response: %w", err)
	}
	return env, nil
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/signal", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Peer-Id", c.peerID.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	text := strings.TrimSpace(string(raw))
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrPeerNotFound, text)
	}
	return fmt.Errorf("signaling request failed: %s (status %d)", text, resp.StatusCode)
}
