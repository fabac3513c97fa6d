package bluesky

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/live-herald/testutil"
)

func newDryRunPoster(start time.Time) (*Poster, *time.Time) {
	now := start
	p := &Poster{
		DryRun: true,
		Now:    func() time.Time { return now },
	}
	return p, &now
}

func TestPublishDuplicateWindow(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	p, now := newDryRunPoster(start)
	ctx := context.Background()

	ok, err := p.Publish(ctx, PlainText("going live"), false, nil)
	if err != nil || !ok {
		t.Fatalf("first Publish() = %v, %v; want true, nil", ok, err)
	}

	// Identical content one second before the window closes: suppressed.
	*now = start.Add(7199 * time.Second)
	ok, err = p.Publish(ctx, PlainText("going live"), false, nil)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if ok {
		t.Error("Publish() inside window = true, want suppressed")
	}

	// At exactly the window boundary: allowed again.
	*now = start.Add(7200 * time.Second)
	ok, err = p.Publish(ctx, PlainText("going live"), false, nil)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !ok {
		t.Error("Publish() at window boundary = false, want allowed")
	}
}

func TestPublishDifferentContentNotSuppressed(t *testing.T) {
	p, _ := newDryRunPoster(time.Unix(1_700_000_000, 0))
	ctx := context.Background()

	if ok, _ := p.Publish(ctx, PlainText("first"), false, nil); !ok {
		t.Fatal("first publish suppressed")
	}
	if ok, _ := p.Publish(ctx, PlainText("second"), false, nil); !ok {
		t.Error("different content suppressed")
	}
}

func TestPublishForceBypassesSuppression(t *testing.T) {
	p, _ := newDryRunPoster(time.Unix(1_700_000_000, 0))
	ctx := context.Background()

	if ok, _ := p.Publish(ctx, PlainText("same"), false, nil); !ok {
		t.Fatal("first publish suppressed")
	}
	if ok, _ := p.Publish(ctx, PlainText("same"), false, nil); ok {
		t.Fatal("immediate duplicate not suppressed")
	}
	ok, err := p.Publish(ctx, PlainText("same"), true, nil)
	if err != nil {
		t.Fatalf("forced Publish() error = %v", err)
	}
	if !ok {
		t.Error("forced Publish() = false, want true regardless of duplicate")
	}
}

// Only the most recent publish is remembered: content matching a post from
// two publishes ago is never flagged.
func TestPublishSingleSlotComparison(t *testing.T) {
	p, _ := newDryRunPoster(time.Unix(1_700_000_000, 0))
	ctx := context.Background()

	for _, text := range []string{"a", "b", "a"} {
		ok, err := p.Publish(ctx, PlainText(text), false, nil)
		if err != nil {
			t.Fatalf("Publish(%q) error = %v", text, err)
		}
		if !ok {
			t.Errorf("Publish(%q) suppressed, want allowed", text)
		}
	}
}

func TestResetDuplicateTracking(t *testing.T) {
	p, _ := newDryRunPoster(time.Unix(1_700_000_000, 0))
	ctx := context.Background()

	if ok, _ := p.Publish(ctx, PlainText("same"), false, nil); !ok {
		t.Fatal("first publish suppressed")
	}
	p.ResetDuplicateTracking()
	if ok, _ := p.Publish(ctx, PlainText("same"), false, nil); !ok {
		t.Error("publish after reset suppressed")
	}
}

func TestPublishLiveNotificationContent(t *testing.T) {
	p, _ := newDryRunPoster(time.Unix(1_700_000_000, 0))
	ok, err := p.PublishLiveNotification(context.Background(),
		"testuser", "https://twitch.tv/testuser", "Test Stream", "Just Chatting", false)
	if err != nil {
		t.Fatalf("PublishLiveNotification() error = %v", err)
	}
	if !ok {
		t.Fatal("PublishLiveNotification() = false")
	}

	text := p.lastText
	for _, want := range []string{"Test Stream", "Just Chatting", "twitch.tv/testuser"} {
		if !strings.Contains(text, want) {
			t.Errorf("rendered text missing %q:\n%s", want, text)
		}
	}
}

func TestPublishLiveNotificationOmitsEmptyLines(t *testing.T) {
	p, _ := newDryRunPoster(time.Unix(1_700_000_000, 0))
	ok, err := p.PublishLiveNotification(context.Background(),
		"testuser", "https://twitch.tv/testuser", "", "", false)
	if err != nil || !ok {
		t.Fatalf("PublishLiveNotification() = %v, %v", ok, err)
	}
	if strings.Contains(p.lastText, "📺") || strings.Contains(p.lastText, "🎮") {
		t.Errorf("title/game lines rendered without data:\n%s", p.lastText)
	}
}

func TestPublishLiveNotificationUsesAnnouncementLine(t *testing.T) {
	p, _ := newDryRunPoster(time.Unix(1_700_000_000, 0))
	p.Announcement = "🔴 testuser is now live on Twitch!"
	if ok, err := p.PublishLiveNotification(context.Background(),
		"testuser", "https://twitch.tv/testuser", "t", "g", false); err != nil || !ok {
		t.Fatalf("PublishLiveNotification() = %v, %v", ok, err)
	}
	if !strings.HasPrefix(p.lastText, "🔴 testuser is now live on Twitch!") {
		t.Errorf("announcement line not used:\n%s", p.lastText)
	}
}

type fetcherFunc func(ctx context.Context, pageURL string) (*Embed, error)

func (f fetcherFunc) Fetch(ctx context.Context, pageURL string) (*Embed, error) {
	return f(ctx, pageURL)
}

func TestPublishLiveNotificationEmbedFailureDegrades(t *testing.T) {
	p, _ := newDryRunPoster(time.Unix(1_700_000_000, 0))
	p.Previews = fetcherFunc(func(ctx context.Context, pageURL string) (*Embed, error) {
		return nil, fmt.Errorf("preview backend down")
	})
	ok, err := p.PublishLiveNotification(context.Background(),
		"testuser", "https://twitch.tv/testuser", "Test Stream", "Just Chatting", false)
	if err != nil {
		t.Fatalf("embed failure must not fail the post: %v", err)
	}
	if !ok {
		t.Error("PublishLiveNotification() = false, want posted without embed")
	}
}

func TestPublishSendsThroughClient(t *testing.T) {
	m := testutil.NewMockBlueskyServer(t)
	p := &Poster{
		Client: &Client{Handle: "test.bsky.social", AppPassword: "pw", BaseURL: m.URL},
		Previews: fetcherFunc(func(ctx context.Context, pageURL string) (*Embed, error) {
			return &Embed{URI: pageURL, Title: "Twitch", Description: "stream page"}, nil
		}),
	}
	ok, err := p.PublishLiveNotification(context.Background(),
		"testuser", "https://twitch.tv/testuser", "Test Stream", "Just Chatting", false)
	if err != nil {
		t.Fatalf("PublishLiveNotification() error = %v", err)
	}
	if !ok {
		t.Fatal("PublishLiveNotification() = false")
	}

	posts := m.SentPosts()
	if len(posts) != 1 {
		t.Fatalf("sent %d posts, want 1", len(posts))
	}
	record := posts[0]["record"].(map[string]interface{})
	text := record["text"].(string)
	for _, want := range []string{"Test Stream", "Just Chatting", "twitch.tv/testuser"} {
		if !strings.Contains(text, want) {
			t.Errorf("posted text missing %q", want)
		}
	}
	if _, ok := record["facets"]; !ok {
		t.Error("facets missing from live notification record")
	}
	if _, ok := record["embed"]; !ok {
		t.Error("embed missing despite successful preview fetch")
	}
}

func TestPublishSendFailureReturnsError(t *testing.T) {
	m := testutil.NewMockBlueskyServer(t)
	m.Handlers["/xrpc/com.atproto.repo.createRecord"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	p := &Poster{
		Client: &Client{Handle: "test.bsky.social", AppPassword: "pw", BaseURL: m.URL},
	}
	ok, err := p.Publish(context.Background(), PlainText("fails"), false, nil)
	if ok {
		t.Error("Publish() = true despite send failure")
	}
	if !errors.Is(err, ErrPublish) {
		t.Errorf("Publish() error = %v, want ErrPublish", err)
	}
	// Failed sends must not arm the duplicate slot.
	if ok := p.isDuplicate("fails"); ok {
		t.Error("failed publish recorded for duplicate suppression")
	}
}
