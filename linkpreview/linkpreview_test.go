package linkpreview

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/live-herald/bluesky"
)

type fakeUploader struct {
	calls    int
	lastType string
	lastSize int
	fail     bool
}

func (f *fakeUploader) UploadBlob(ctx context.Context, data []byte, contentType string) (*bluesky.BlobRef, error) {
	f.calls++
	f.lastType = contentType
	f.lastSize = len(data)
	if f.fail {
		return nil, fmt.Errorf("upload rejected")
	}
	return &bluesky.BlobRef{Type: "blob", Ref: bluesky.BlobLink{Link: "bafyfake"}, MimeType: contentType, Size: int64(len(data))}, nil
}

func pageHTML(head string) string {
	return "<!DOCTYPE html><html><head>" + head + "</head><body><p>body text</p></body></html>"
}

func newPreviewServer(t *testing.T, head string, image []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(pageHTML(head)))
	})
	mux.HandleFunc("/img.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(image)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchPrefersOpenGraph(t *testing.T) {
	server := newPreviewServer(t, `
		<title>Fallback Title</title>
		<meta name="description" content="fallback description">
		<meta property="og:title" content="OG Title">
		<meta property="og:description" content="OG description">`, nil)

	f := &Fetcher{}
	embed, err := f.Fetch(context.Background(), server.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if embed.Title != "OG Title" {
		t.Errorf("Title = %q, want OG Title", embed.Title)
	}
	if embed.Description != "OG description" {
		t.Errorf("Description = %q, want OG description", embed.Description)
	}
	if embed.URI != server.URL+"/page" {
		t.Errorf("URI = %q", embed.URI)
	}
	if embed.Thumb != nil {
		t.Error("Thumb set without og:image")
	}
}

func TestFetchFallsBackToTitleTag(t *testing.T) {
	server := newPreviewServer(t, `
		<title>Fallback Title</title>
		<meta name="description" content="fallback description">`, nil)

	f := &Fetcher{}
	embed, err := f.Fetch(context.Background(), server.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if embed.Title != "Fallback Title" {
		t.Errorf("Title = %q, want Fallback Title", embed.Title)
	}
	if embed.Description != "fallback description" {
		t.Errorf("Description = %q", embed.Description)
	}
}

func TestFetchUploadsThumbnail(t *testing.T) {
	image := make([]byte, 512)
	server := newPreviewServer(t, `
		<meta property="og:title" content="With Image">
		<meta property="og:image" content="/img.png">`, image)

	up := &fakeUploader{}
	f := &Fetcher{Blobs: up}
	embed, err := f.Fetch(context.Background(), server.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if embed.Thumb == nil {
		t.Fatal("Thumb = nil, want uploaded blob")
	}
	if up.calls != 1 {
		t.Errorf("UploadBlob called %d times, want 1", up.calls)
	}
	if up.lastType != "image/png" {
		t.Errorf("uploaded content type = %q", up.lastType)
	}
	if up.lastSize != len(image) {
		t.Errorf("uploaded %d bytes, want %d", up.lastSize, len(image))
	}
}

func TestFetchOversizedImageDropsThumbnail(t *testing.T) {
	image := make([]byte, maxImageBytes+1)
	server := newPreviewServer(t, `
		<meta property="og:title" content="Big Image">
		<meta property="og:description" content="still has text">
		<meta property="og:image" content="/img.png">`, image)

	up := &fakeUploader{}
	f := &Fetcher{Blobs: up}
	embed, err := f.Fetch(context.Background(), server.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if embed.Thumb != nil {
		t.Error("Thumb set for oversized image, want dropped")
	}
	if up.calls != 0 {
		t.Errorf("UploadBlob called %d times for oversized image, want 0", up.calls)
	}
	if embed.Title != "Big Image" || embed.Description != "still has text" {
		t.Errorf("card text lost: %+v", embed)
	}
}

func TestFetchUploadFailureDropsThumbnail(t *testing.T) {
	server := newPreviewServer(t, `
		<meta property="og:title" content="Upload Fails">
		<meta property="og:image" content="/img.png">`, make([]byte, 10))

	f := &Fetcher{Blobs: &fakeUploader{fail: true}}
	embed, err := f.Fetch(context.Background(), server.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if embed.Thumb != nil {
		t.Error("Thumb set despite upload failure")
	}
}

func TestFetchErrorOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	f := &Fetcher{}
	if _, err := f.Fetch(context.Background(), server.URL+"/missing"); err == nil {
		t.Error("Fetch() of 404 page should return error")
	}
}

func TestFetchTruncatesLongMetadata(t *testing.T) {
	longTitle := strings.Repeat("t", 400)
	longDesc := strings.Repeat("d", 1500)
	server := newPreviewServer(t, fmt.Sprintf(`
		<meta property="og:title" content="%s">
		<meta property="og:description" content="%s">`, longTitle, longDesc), nil)

	f := &Fetcher{}
	embed, err := f.Fetch(context.Background(), server.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(embed.Title) != maxTitleLen {
		t.Errorf("len(Title) = %d, want %d", len(embed.Title), maxTitleLen)
	}
	if len(embed.Description) != maxDescriptionLen {
		t.Errorf("len(Description) = %d, want %d", len(embed.Description), maxDescriptionLen)
	}
}

func TestResolveImageURL(t *testing.T) {
	cases := []struct {
		page, image, want string
		wantErr           bool
	}{
		{"https://example.com/page", "https://cdn.example.com/a.png", "https://cdn.example.com/a.png", false},
		{"https://example.com/dir/page", "/a.png", "https://example.com/a.png", false},
		{"https://example.com/dir/page", "a.png", "https://example.com/dir/a.png", false},
		{"https://example.com/page", "//cdn.example.com/a.png", "https://cdn.example.com/a.png", false},
		{"https://example.com/page", "data:image/png;base64,AAAA", "", true},
	}
	for _, tc := range cases {
		got, err := resolveImageURL(tc.page, tc.image)
		if tc.wantErr {
			if err == nil {
				t.Errorf("resolveImageURL(%q, %q) expected error", tc.page, tc.image)
			}
			continue
		}
		if err != nil {
			t.Errorf("resolveImageURL(%q, %q) error = %v", tc.page, tc.image, err)
			continue
		}
		if got != tc.want {
			t.Errorf("resolveImageURL(%q, %q) = %q, want %q", tc.page, tc.image, got, tc.want)
		}
	}
}

func TestNopFetcher(t *testing.T) {
	embed, err := NopFetcher{}.Fetch(context.Background(), "https://example.com")
	if err != nil {
		t.Errorf("NopFetcher.Fetch() error = %v", err)
	}
	if embed != nil {
		t.Errorf("NopFetcher.Fetch() = %+v, want nil", embed)
	}
}
