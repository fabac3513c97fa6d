package bluesky

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/live-herald/telemetry"
)

// DuplicateWindow is how long a byte-identical post is suppressed after a
// successful publish.
const DuplicateWindow = 7200 * time.Second

// defaultHashtags are rendered as tappable tag facets in live notifications.
var defaultHashtags = []string{"twitch", "live", "gaming", "streaming"}

// PreviewFetcher builds a link-preview embed for a URL. Implementations are
// best-effort: an error means "post without an embed", never "abort the post".
type PreviewFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Embed, error)
}

// Poster publishes posts to Bluesky with single-slot duplicate suppression:
// only the most recent successful publish is remembered, and a byte-identical
// candidate inside DuplicateWindow is skipped.
type Poster struct {
	Client   *Client
	Previews PreviewFetcher // optional; nil disables embeds

	// Announcement is the rendered first line of live notifications
	// (config template with {username} substituted). Empty uses a default.
	Announcement string

	// DryRun logs instead of sending. Duplicate tracking still applies so
	// the edge-detection path behaves identically.
	DryRun bool

	// Now is the clock used for the suppression window; defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	lastText string
	lastAt   time.Time
}

func (p *Poster) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Publish sends content unless it duplicates the immediately preceding publish
// within the suppression window. Returns (false, nil) when suppressed and
// (false, err) on auth or send failure. force bypasses suppression.
func (p *Poster) Publish(ctx context.Context, content Content, force bool, embed *Embed) (bool, error) {
	text := content.Plain()
	if !force && p.isDuplicate(text) {
		telemetry.Inc(telemetry.PostsSuppressed)
		slog.Info("skipping duplicate post", slog.String("preview", preview(text)))
		return false, nil
	}

	if p.DryRun {
		slog.Info("dry run: would post to bluesky", slog.String("text", text), slog.Bool("embed", embed != nil))
	} else {
		if p.Client == nil {
			return false, fmt.Errorf("%w: no client configured", ErrPublish)
		}
		var err error
		telemetry.TimeFunc(telemetry.PublishDuration, func() {
			err = p.Client.SendPost(ctx, text, content.Facets(), embed, p.now())
		})
		if err != nil {
			telemetry.Inc(telemetry.PostsFailed)
			return false, err
		}
		slog.Info("posted to bluesky", slog.String("preview", preview(text)))
	}

	p.mu.Lock()
	p.lastText = text
	p.lastAt = p.now()
	p.mu.Unlock()
	telemetry.Inc(telemetry.PostsPublished)
	return true, nil
}

func (p *Poster) isDuplicate(text string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastText == "" {
		return false
	}
	return text == p.lastText && p.now().Sub(p.lastAt) < DuplicateWindow
}

// PublishLiveNotification builds the live announcement (announcement line,
// optional title/game lines, hashtags as tag facets, stream URL as a link
// facet), attaches a best-effort link preview, and publishes it.
func (p *Poster) PublishLiveNotification(ctx context.Context, channel, streamURL, title, game string, force bool) (bool, error) {
	line := p.Announcement
	if line == "" {
		line = fmt.Sprintf("🔴 %s is now live on Twitch!", channel)
	}

	b := NewBuilder()
	b.Text(line)
	if title != "" {
		b.Text("\n\n📺 " + title)
	}
	if game != "" {
		b.Text("\n\n🎮 Playing " + game)
	}
	b.Text("\n\n")
	for i, tag := range defaultHashtags {
		if i > 0 {
			b.Text(" ")
		}
		b.Tag("#"+tag, tag)
	}
	b.Text("\n\n")
	b.Link(streamURL, streamURL)

	var embed *Embed
	if p.Previews != nil {
		e, err := p.Previews.Fetch(ctx, streamURL)
		if err != nil {
			telemetry.IncEmbedFetchFailures()
			slog.Debug("link preview fetch failed; posting without embed", slog.Any("err", err))
		} else {
			embed = e
		}
	}

	return p.Publish(ctx, b.Build(), force, embed)
}

// TestConnection verifies the Bluesky session by fetching the account's own
// profile. Dry-run posters always pass.
func (p *Poster) TestConnection(ctx context.Context) bool {
	if p.DryRun {
		slog.Info("dry run: skipping bluesky connection test")
		return true
	}
	prof, err := p.Client.GetProfile(ctx, p.Client.Handle)
	if err != nil {
		slog.Error("bluesky connection test failed", slog.Any("err", err))
		return false
	}
	name := prof.DisplayName
	if name == "" {
		name = prof.Handle
	}
	slog.Info("bluesky connection ok", slog.String("profile", name))
	return true
}

// ResetDuplicateTracking clears the suppression slot so the next post is
// never treated as a duplicate.
func (p *Poster) ResetDuplicateTracking() {
	p.mu.Lock()
	p.lastText = ""
	p.lastAt = time.Time{}
	p.mu.Unlock()
}

func preview(text string) string {
	const n = 50
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}
