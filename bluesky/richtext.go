package bluesky

import "strings"

// Facet marks a byte range of post text as a tappable feature (link or hashtag).
// Byte offsets are over the UTF-8 encoding of the text, per the AT Protocol
// rich text model.
type Facet struct {
	Index    FacetIndex     `json:"index"`
	Features []FacetFeature `json:"features"`
}

type FacetIndex struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type FacetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

const (
	featureLink = "app.bsky.richtext.facet#link"
	featureTag  = "app.bsky.richtext.facet#tag"
)

// Content is post body input: either plain text or builder-produced rich text.
// Plain is the single accessor used uniformly for duplicate checking and logging.
type Content interface {
	Plain() string
	Facets() []Facet
}

// PlainText is post content with no facets.
type PlainText string

func (p PlainText) Plain() string   { return string(p) }
func (p PlainText) Facets() []Facet { return nil }

// RichText is immutable builder output: text plus facet annotations.
type RichText struct {
	text   string
	facets []Facet
}

func (r RichText) Plain() string   { return r.text }
func (r RichText) Facets() []Facet { return r.facets }

// Builder assembles rich text incrementally, tracking facet byte offsets as
// segments are appended.
type Builder struct {
	sb     strings.Builder
	facets []Facet
}

func NewBuilder() *Builder { return &Builder{} }

// Text appends a plain segment.
func (b *Builder) Text(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Tag appends display text annotated as a hashtag facet. The tag value is the
// bare tag without the leading '#'.
func (b *Builder) Tag(display, tag string) *Builder {
	start := b.sb.Len()
	b.sb.WriteString(display)
	b.facets = append(b.facets, Facet{
		Index:    FacetIndex{ByteStart: start, ByteEnd: b.sb.Len()},
		Features: []FacetFeature{{Type: featureTag, Tag: tag}},
	})
	return b
}

// Link appends display text annotated as a link facet pointing at uri.
func (b *Builder) Link(display, uri string) *Builder {
	start := b.sb.Len()
	b.sb.WriteString(display)
	b.facets = append(b.facets, Facet{
		Index:    FacetIndex{ByteStart: start, ByteEnd: b.sb.Len()},
		Features: []FacetFeature{{Type: featureLink, URI: uri}},
	})
	return b
}

// Build returns the accumulated rich text.
func (b *Builder) Build() RichText {
	return RichText{text: b.sb.String(), facets: b.facets}
}
