// Package announce runs the poll loop: it watches a stream status source for
// the offline-to-live edge and publishes a notification through a post sink.
// Scheduled ticks and manual triggers are serialized through a single
// goroutine, so live state and duplicate tracking never see concurrent writes.
package announce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/twitchapi"
)

// StreamSource reports current broadcast status for one channel.
// *twitchapi.HelixClient satisfies this.
type StreamSource interface {
	GetStream(ctx context.Context) (*twitchapi.Stream, error)
	Channel() string
	ChannelURL() string
}

// PostSink publishes a live notification. *bluesky.Poster satisfies this.
type PostSink interface {
	PublishLiveNotification(ctx context.Context, channel, streamURL, title, game string, force bool) (bool, error)
}

// Status is a read-only snapshot for the HTTP status endpoint.
type Status struct {
	Channel   string    `json:"channel"`
	Live      bool      `json:"live"`
	LastCheck time.Time `json:"last_check"`
	Ticks     uint64    `json:"ticks"`
	StartedAt time.Time `json:"started_at"`
}

// Announcer polls the source on a fixed interval and reacts to edges:
// offline→live publishes (force=false); live→offline is intentionally a no-op,
// kept as the hook point for a future "stream ended" notification.
type Announcer struct {
	Source   StreamSource
	Sink     PostSink
	Interval time.Duration

	trigger chan struct{}

	mu        sync.Mutex
	live      bool
	lastCheck time.Time
	ticks     uint64
	startedAt time.Time
}

// New builds an Announcer. The trigger channel holds one pending manual
// request; further triggers while one is queued are dropped.
func New(source StreamSource, sink PostSink, interval time.Duration) *Announcer {
	return &Announcer{
		Source:   source,
		Sink:     sink,
		Interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests an out-of-band manual publish (force=true). It never
// blocks; it reports whether the request was queued. The publish itself runs
// on the loop goroutine, between ticks.
func (a *Announcer) Trigger() bool {
	select {
	case a.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status returns a snapshot of loop state.
func (a *Announcer) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Channel:   a.Source.Channel(),
		Live:      a.live,
		LastCheck: a.lastCheck,
		Ticks:     a.ticks,
		StartedAt: a.startedAt,
	}
}

func (a *Announcer) isLive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

func (a *Announcer) setLive(live bool) {
	a.mu.Lock()
	a.live = live
	a.mu.Unlock()
	telemetry.SetLiveGauge(live)
}

// Run blocks until ctx is cancelled. Initial live state comes from the first
// status query; a failed initial query starts the loop in the offline state.
func (a *Announcer) Run(ctx context.Context) {
	a.mu.Lock()
	a.startedAt = time.Now()
	a.mu.Unlock()

	s, err := a.Source.GetStream(ctx)
	if err != nil {
		slog.Warn("initial status check failed; starting as offline", slog.Any("err", err))
	}
	a.setLive(err == nil && s != nil)
	slog.Info("announcer started",
		slog.String("channel", a.Source.Channel()),
		slog.Bool("live", a.isLive()),
		slog.Duration("interval", a.Interval))

	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("announcer stopped", slog.String("channel", a.Source.Channel()))
			return
		case <-ticker.C:
			a.tick(ctx)
		case <-a.trigger:
			a.manual(ctx)
		}
	}
}

// tick performs one status check and reacts to a state change. Remote
// failures are logged and the tick is treated as no-change; the loop never
// dies on them.
func (a *Announcer) tick(ctx context.Context) {
	a.mu.Lock()
	a.ticks++
	n := a.ticks
	started := a.startedAt
	a.mu.Unlock()
	telemetry.Inc(telemetry.PollCycles)

	ctx = telemetry.WithCorrelation(ctx, uuid.New().String())
	ctx, span := telemetry.StartSpan(ctx, "announcer", "tick")
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx)

	var s *twitchapi.Stream
	var err error
	telemetry.TimeFunc(telemetry.PollDuration, func() {
		s, err = a.Source.GetStream(ctx)
	})
	a.mu.Lock()
	a.lastCheck = time.Now()
	a.mu.Unlock()
	if err != nil {
		telemetry.Inc(telemetry.PollFailures)
		telemetry.RecordError(span, err)
		log.Error("status check failed; treating as no change", slog.Any("err", err))
		return
	}

	nowLive := s != nil
	if nowLive == a.isLive() {
		log.Debug("stream status unchanged", slog.Bool("live", nowLive))
		if n%10 == 0 {
			log.Info("announcer healthy",
				slog.Duration("uptime", time.Since(started).Round(time.Second)),
				slog.Bool("live", nowLive),
				slog.Uint64("ticks", n))
		}
		return
	}
	a.setLive(nowLive)

	if !nowLive {
		// Going offline posts nothing; future "stream ended" notification
		// would hook in here.
		log.Info("stream went offline", slog.String("channel", a.Source.Channel()))
		return
	}

	telemetry.Inc(telemetry.LiveTransitions)
	log.Info("stream went live",
		slog.String("channel", a.Source.Channel()),
		slog.String("title", s.Title),
		slog.String("game", s.GameName),
		slog.Int("viewers", s.ViewerCount))
	ok, err := a.Sink.PublishLiveNotification(ctx, a.Source.Channel(), a.Source.ChannelURL(), s.Title, s.GameName, false)
	switch {
	case err != nil:
		telemetry.RecordError(span, err)
		log.Error("live notification failed", slog.Any("err", err))
	case !ok:
		log.Warn("live notification suppressed as duplicate")
	default:
		telemetry.SetSpanSuccess(span)
		log.Info("live notification posted")
	}
}

// manual performs an out-of-band publish with force=true. When the channel is
// offline a generic title/game and the channel URL stand in, rather than
// skipping the post.
func (a *Announcer) manual(ctx context.Context) {
	ctx = telemetry.WithCorrelation(ctx, uuid.New().String())
	ctx, span := telemetry.StartSpan(ctx, "announcer", "manual-publish")
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx)
	log.Info("manual publish triggered", slog.String("channel", a.Source.Channel()))

	s, err := a.Source.GetStream(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		log.Error("manual publish: status check failed", slog.Any("err", err))
		return
	}

	title, game := "Online!", "Chatting"
	if s != nil {
		title, game = s.Title, s.GameName
	}
	ok, err := a.Sink.PublishLiveNotification(ctx, a.Source.Channel(), a.Source.ChannelURL(), title, game, true)
	switch {
	case err != nil:
		telemetry.RecordError(span, err)
		log.Error("manual publish failed", slog.Any("err", err))
	case !ok:
		log.Warn("manual publish skipped")
	default:
		telemetry.SetSpanSuccess(span)
		log.Info("manual notification posted")
	}
}
