// Package bluesky contains a minimal AT Protocol XRPC client plus the post
// publishing pipeline (rich text, link-preview embeds, duplicate suppression).
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrPublish wraps authentication and remote-send failures against the
// Bluesky API.
var ErrPublish = errors.New("bluesky publish failed")

// DefaultServiceURL is the Bluesky PDS entrypoint.
const DefaultServiceURL = "https://bsky.social"

// BlobRef references an uploaded blob (e.g. an embed thumbnail) in the
// account's blob store.
type BlobRef struct {
	Type     string   `json:"$type"`
	Ref      BlobLink `json:"ref"`
	MimeType string   `json:"mimeType"`
	Size     int64    `json:"size"`
}

type BlobLink struct {
	Link string `json:"$link"`
}

// Embed is the external link-preview card attached to a post. Thumb is
// optional; when nil the card renders without an image.
type Embed struct {
	URI         string
	Title       string
	Description string
	Thumb       *BlobRef
}

func (e *Embed) record() map[string]any {
	external := map[string]any{
		"uri":         e.URI,
		"title":       e.Title,
		"description": e.Description,
	}
	if e.Thumb != nil {
		external["thumb"] = e.Thumb
	}
	return map[string]any{
		"$type":    "app.bsky.embed.external",
		"external": external,
	}
}

// Profile is the subset of app.bsky.actor.getProfile used for connection tests.
type Profile struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

// Client is a minimal XRPC client for one Bluesky account. The session is
// created lazily on first use and reused until the server rejects it.
type Client struct {
	Handle      string
	AppPassword string
	HTTPClient  *http.Client
	BaseURL     string // defaults to DefaultServiceURL

	mu        sync.Mutex
	accessJwt string
	did       string
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return DefaultServiceURL
}

// session returns cached credentials, logging in on first use.
func (c *Client) session(ctx context.Context) (jwt, did string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessJwt != "" {
		return c.accessJwt, c.did, nil
	}
	if c.Handle == "" || c.AppPassword == "" {
		return "", "", fmt.Errorf("%w: missing handle/app password", ErrPublish)
	}
	slog.Info("logging into bluesky", slog.String("handle", c.Handle))
	body, err := json.Marshal(map[string]string{
		"identifier": c.Handle,
		"password":   c.AppPassword,
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrPublish, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/xrpc/com.atproto.server.createSession", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrPublish, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrPublish, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("%w: createSession returned %s: %s", ErrPublish, resp.Status, string(b))
	}
	var sess struct {
		AccessJwt string `json:"accessJwt"`
		Did       string `json:"did"`
		Handle    string `json:"handle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return "", "", fmt.Errorf("%w: decode session: %v", ErrPublish, err)
	}
	if sess.AccessJwt == "" || sess.Did == "" {
		return "", "", fmt.Errorf("%w: empty session in createSession response", ErrPublish)
	}
	c.accessJwt = sess.AccessJwt
	c.did = sess.Did
	slog.Info("bluesky session established", slog.String("did", sess.Did))
	return c.accessJwt, c.did, nil
}

func (c *Client) resetSession() {
	c.mu.Lock()
	c.accessJwt = ""
	c.did = ""
	c.mu.Unlock()
}

// SendPost creates an app.bsky.feed.post record with optional facets and embed.
func (c *Client) SendPost(ctx context.Context, text string, facets []Facet, embed *Embed, createdAt time.Time) error {
	jwt, did, err := c.session(ctx)
	if err != nil {
		return err
	}
	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      text,
		"createdAt": createdAt.UTC().Format(time.RFC3339),
	}
	if len(facets) > 0 {
		record["facets"] = facets
	}
	if embed != nil {
		record["embed"] = embed.record()
	}
	body, err := json.Marshal(map[string]any{
		"repo":       did,
		"collection": "app.bsky.feed.post",
		"record":     record,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/xrpc/com.atproto.repo.createRecord", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+jwt)
	resp, err := c.http().Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			// Session expired or revoked; next call re-authenticates.
			c.resetSession()
		}
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: createRecord returned %s: %s", ErrPublish, resp.Status, string(b))
	}
	return nil
}

// UploadBlob uploads raw bytes to the account's blob store and returns the
// reference to attach in an embed.
func (c *Client) UploadBlob(ctx context.Context, data []byte, contentType string) (*BlobRef, error) {
	jwt, _, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/xrpc/com.atproto.repo.uploadBlob", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublish, err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+jwt)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublish, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: uploadBlob returned %s: %s", ErrPublish, resp.Status, string(b))
	}
	var out struct {
		Blob BlobRef `json:"blob"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode uploadBlob response: %v", ErrPublish, err)
	}
	return &out.Blob, nil
}

// GetProfile fetches an actor profile; used to verify the session works.
func (c *Client) GetProfile(ctx context.Context, actor string) (*Profile, error) {
	jwt, _, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/xrpc/app.bsky.actor.getProfile?actor="+url.QueryEscape(actor), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublish, err)
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublish, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: getProfile returned %s: %s", ErrPublish, resp.Status, string(b))
	}
	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decode profile: %v", ErrPublish, err)
	}
	return &p, nil
}
