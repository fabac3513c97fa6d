// Package linkpreview fetches Open Graph page metadata to build external
// embed cards for posts. Everything here is best-effort: a failed fetch,
// parse, or oversized image degrades the card instead of failing the post.
package linkpreview

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/onnwee/live-herald/bluesky"
)

const (
	// maxImageBytes caps embed thumbnails; larger images are dropped from
	// the card (title/description survive).
	maxImageBytes = 1_000_000

	// maxHTMLBytes bounds how much of the page we read looking for meta tags.
	maxHTMLBytes = 2 << 20

	maxTitleLen       = 300
	maxDescriptionLen = 1000

	// Some sites serve stripped pages to unknown agents; a browser-like UA
	// gets the same meta tags a link preview in a real client would see.
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// BlobUploader stores thumbnail bytes and returns the reference to attach in
// an embed. *bluesky.Client satisfies this.
type BlobUploader interface {
	UploadBlob(ctx context.Context, data []byte, contentType string) (*bluesky.BlobRef, error)
}

// Fetcher builds embed cards from page metadata.
type Fetcher struct {
	HTTPClient *http.Client
	Blobs      BlobUploader // optional; nil disables thumbnails
}

func (f *Fetcher) http() *http.Client {
	if f.HTTPClient != nil {
		return f.HTTPClient
	}
	return http.DefaultClient
}

type pageMeta struct {
	ogTitle, ogDescription, ogImage string
	title, description              string
}

// Fetch GETs the page, extracts og:/fallback metadata, and optionally uploads
// a thumbnail. Returns an error only when no card can be built at all.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*bluesky.Embed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build preview request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: unexpected status %s", resp.Status)
	}

	meta := parseMeta(io.LimitReader(resp.Body, maxHTMLBytes))

	title := meta.ogTitle
	if title == "" {
		title = meta.title
	}
	desc := meta.ogDescription
	if desc == "" {
		desc = meta.description
	}
	embed := &bluesky.Embed{
		URI:         pageURL,
		Title:       truncate(title, maxTitleLen),
		Description: truncate(desc, maxDescriptionLen),
	}

	if meta.ogImage != "" && f.Blobs != nil {
		if thumb := f.fetchThumb(ctx, pageURL, meta.ogImage); thumb != nil {
			embed.Thumb = thumb
		}
	}
	return embed, nil
}

// fetchThumb downloads the og:image and uploads it as a blob. Any failure,
// including an oversized image, returns nil so the card ships without a thumb.
func (f *Fetcher) fetchThumb(ctx context.Context, pageURL, imageURL string) *bluesky.BlobRef {
	resolved, err := resolveImageURL(pageURL, imageURL)
	if err != nil {
		slog.Debug("preview image url unusable", slog.String("image", imageURL), slog.Any("err", err))
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.http().Do(req)
	if err != nil {
		slog.Debug("preview image fetch failed", slog.String("image", resolved), slog.Any("err", err))
		return nil
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	// Read one byte past the cap to detect oversize without buffering the rest.
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil
	}
	if len(data) > maxImageBytes {
		slog.Debug("preview image too large; omitting thumbnail", slog.String("image", resolved), slog.Int("bytes", len(data)))
		return nil
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	blob, err := f.Blobs.UploadBlob(ctx, data, contentType)
	if err != nil {
		slog.Debug("preview thumbnail upload failed", slog.Any("err", err))
		return nil
	}
	return blob
}

// resolveImageURL handles relative and protocol-relative og:image values by
// resolving them against the page URL.
func resolveImageURL(pageURL, imageURL string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil {
		return "", err
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", resolved.Scheme)
	}
	return resolved.String(), nil
}

// parseMeta tokenizes HTML collecting og: meta tags with <title> and
// name=description fallbacks. Stops at </head> since meta tags live there.
func parseMeta(r io.Reader) pageMeta {
	var meta pageMeta
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return meta
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "meta":
				var property, name, content string
				for _, a := range tok.Attr {
					switch a.Key {
					case "property":
						property = a.Val
					case "name":
						name = a.Val
					case "content":
						content = a.Val
					}
				}
				switch {
				case property == "og:title":
					meta.ogTitle = content
				case property == "og:description":
					meta.ogDescription = content
				case property == "og:image":
					meta.ogImage = content
				case name == "description":
					meta.description = content
				}
			case "title":
				if z.Next() == html.TextToken {
					meta.title = strings.TrimSpace(z.Token().Data)
				}
			}
		case html.EndTagToken:
			if z.Token().Data == "head" {
				return meta
			}
		}
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// NopFetcher is substituted when link previews are disabled; posts go out
// without an embed.
type NopFetcher struct{}

func (NopFetcher) Fetch(ctx context.Context, pageURL string) (*bluesky.Embed, error) {
	return nil, nil
}
