// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for live stream status, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrStatusQuery wraps failures of the stream status lookup (network error or
// non-success HTTP status). The poll loop logs these and treats the tick as
// no-change.
var ErrStatusQuery = errors.New("twitch status query failed")

// DefaultHelixURL is the base URL for Twitch Helix endpoints.
const DefaultHelixURL = "https://api.twitch.tv/helix"

// Stream is a snapshot of a live broadcast. Two snapshots describe the same
// broadcast iff ID matches.
type Stream struct {
	ID          string
	Title       string
	GameName    string
	ViewerCount int
	StartedAt   time.Time
}

// HelixClient queries live status for a single channel login.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	BaseURL        string // defaults to DefaultHelixURL

	login string
}

// NewHelixClient builds a client for the given channel login. Twitch treats
// logins case-insensitively, so the login is folded to lowercase here.
func NewHelixClient(ts *TokenSource, clientID, login string) *HelixClient {
	return &HelixClient{
		AppTokenSource: ts,
		ClientID:       clientID,
		login:          strings.ToLower(strings.TrimSpace(login)),
	}
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// Channel returns the (lowercased) channel login this client watches.
func (hc *HelixClient) Channel() string { return hc.login }

// ChannelURL returns the public stream URL for the watched channel.
func (hc *HelixClient) ChannelURL() string { return "https://twitch.tv/" + hc.login }

// GetStream returns the current broadcast for the watched channel, or nil when
// the channel is offline.
func (hc *HelixClient) GetStream(ctx context.Context) (*Stream, error) {
	if hc.login == "" {
		return nil, fmt.Errorf("%w: login empty", ErrStatusQuery)
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	base := hc.BaseURL
	if base == "" {
		base = DefaultHelixURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/streams", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatusQuery, err)
	}
	q := req.URL.Query()
	q.Set("user_login", hc.login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStatusQuery, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: streams request returned %s: %s", ErrStatusQuery, resp.Status, string(b))
	}
	var body struct {
		Data []struct {
			ID          string    `json:"id"`
			Title       string    `json:"title"`
			GameName    string    `json:"game_name"`
			ViewerCount int       `json:"viewer_count"`
			StartedAt   time.Time `json:"started_at"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode streams response: %v", ErrStatusQuery, err)
	}
	if len(body.Data) == 0 {
		return nil, nil // offline
	}
	s := body.Data[0]
	return &Stream{
		ID:          s.ID,
		Title:       s.Title,
		GameName:    s.GameName,
		ViewerCount: s.ViewerCount,
		StartedAt:   s.StartedAt,
	}, nil
}

// IsLive reports whether the watched channel is currently broadcasting.
func (hc *HelixClient) IsLive(ctx context.Context) (bool, error) {
	s, err := hc.GetStream(ctx)
	if err != nil {
		return false, err
	}
	return s != nil, nil
}
