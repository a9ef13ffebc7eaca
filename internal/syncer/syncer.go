// Package syncer runs the background cycle that fetches every feed, merges
// the parsed events and commits them to the store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"icsagenda/internal/config"
	"icsagenda/internal/ics"
	appLog "icsagenda/internal/log"
	"icsagenda/internal/metrics"
	"icsagenda/internal/model"
)

// Feed is one configured source.
type Feed struct {
	URL        string
	CalendarID string
	Name       string
	// Floating interprets this feed's date-times that carry neither Z nor
	// a known TZID. Nil keeps only their date.
	Floating *time.Location
}

func (f Feed) label() string {
	switch {
	case f.Name != "":
		return f.Name
	case f.CalendarID != "":
		return f.CalendarID
	default:
		return ics.RedactURL(f.URL)
	}
}

// Fetcher retrieves the raw text of a feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Store is the write side of the event store.
type Store interface {
	Commit(ctx context.Context, events []model.Event) (model.Snapshot, error)
}

// FeedResult is the outcome of one feed within a cycle.
type FeedResult struct {
	Feed   string
	Events int
	Err    error
}

// Report summarizes one cycle.
type Report struct {
	Feeds []FeedResult
	// Committed is false when the cycle kept the previous snapshot, either
	// because every feed failed under the retain policy or because the commit
	// itself failed.
	Committed bool
	Snapshot  model.Snapshot
	Duration  time.Duration
}

// Failed counts feeds that contributed nothing because of an error.
func (r Report) Failed() int {
	n := 0
	for _, f := range r.Feeds {
		if f.Err != nil {
			n++
		}
	}
	return n
}

// Options tune scheduling and failure policy. Zero values take the defaults
// of config.DefaultConfig.
type Options struct {
	Period       time.Duration
	Cron         string
	StartupDelay time.Duration
	Concurrency  int
	OnAllFailed  string
	// Location is the display zone every feed is rendered into, so merged
	// events compare correctly. UTC when nil.
	Location *time.Location
	Metrics  *metrics.Metrics
}

// Syncer is the only writer of the store.
type Syncer struct {
	feeds    []Feed
	fetcher  Fetcher
	store    Store
	opts     Options
	schedule cron.Schedule
}

// New validates opts and builds a Syncer.
func New(feeds []Feed, fetcher Fetcher, store Store, opts Options) (*Syncer, error) {
	if fetcher == nil || store == nil {
		return nil, errors.New("syncer: fetcher and store are required")
	}
	if opts.Period <= 0 {
		opts.Period = 15 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.OnAllFailed == "" {
		opts.OnAllFailed = config.OnAllFailedRetain
	}

	schedule := cron.Schedule(cron.Every(opts.Period))
	if opts.Cron != "" {
		var err error
		schedule, err = cron.ParseStandard(opts.Cron)
		if err != nil {
			return nil, fmt.Errorf("refresh cron %q: %w", opts.Cron, err)
		}
	}

	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Syncer{
		feeds:    feeds,
		fetcher:  fetcher,
		store:    store,
		opts:     opts,
		schedule: schedule,
	}, nil
}

// FeedsFromConfig resolves the configured feeds. A feed's own timezone
// only sets how its floating times are read; output always uses the shared
// zone from OptionsFromConfig.
func FeedsFromConfig(cfg *config.Config) ([]Feed, error) {
	feeds := make([]Feed, 0, len(cfg.Feeds))
	for _, fc := range cfg.Feeds {
		var floating *time.Location
		if fc.Timezone != "" {
			var err error
			if floating, err = time.LoadLocation(fc.Timezone); err != nil {
				return nil, fmt.Errorf("feed %s timezone %q: %w", fc.Label(), fc.Timezone, err)
			}
		}
		feeds = append(feeds, Feed{
			URL:        fc.URL,
			CalendarID: fc.ID,
			Name:       fc.Name,
			Floating:   floating,
		})
	}
	return feeds, nil
}

// OptionsFromConfig maps the scheduling fields and the shared timezone of
// cfg.
func OptionsFromConfig(cfg *config.Config, m *metrics.Metrics) (Options, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Options{}, fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	return Options{
		Period:       cfg.RefreshPeriod(),
		Cron:         cfg.RefreshCron,
		StartupDelay: cfg.StartupDelay(),
		Concurrency:  cfg.FetchConcurrency,
		OnAllFailed:  cfg.OnAllFailed,
		Location:     loc,
		Metrics:      m,
	}, nil
}

// Run waits the startup delay, runs one cycle and then keeps running cycles
// on the schedule until ctx is cancelled. Cycles never overlap.
func (s *Syncer) Run(ctx context.Context) error {
	appLog.Info("syncer waiting before first cycle", "delay", s.opts.StartupDelay.String(), "feeds", len(s.feeds))
	timer := time.NewTimer(s.opts.StartupDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
	}

	s.cycle(ctx)

	logger := appLog.CronAdapter{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.cycle(ctx) }))
	c.Start()
	appLog.Info("syncer scheduled", "next", c.Entries()[0].Next.Format(time.RFC3339))

	<-ctx.Done()
	// Wait for a running cycle to observe the cancellation.
	<-c.Stop().Done()
	appLog.Info("syncer stopped")
	return ctx.Err()
}

func (s *Syncer) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// Errors are already logged and counted by RunOnce.
	_, _ = s.RunOnce(ctx)
}

// RunOnce performs a single cycle: fetch and parse every feed, merge,
// stable-sort by start and commit. A failing feed is recorded in the report
// and never aborts the cycle. The returned error is non-nil when the commit
// failed, or when ctx was cancelled while fetching; a cancelled cycle never
// commits.
func (s *Syncer) RunOnce(ctx context.Context) (Report, error) {
	began := time.Now()
	results := s.collect(ctx)

	report := Report{Feeds: make([]FeedResult, len(results))}
	if err := ctx.Err(); err != nil {
		for i, r := range results {
			report.Feeds[i] = FeedResult{Feed: s.feeds[i].label(), Events: len(r.events), Err: r.err}
		}
		report.Duration = time.Since(began)
		s.opts.Metrics.ObserveCycle(metrics.ResultCancelled, report.Duration)
		appLog.Warn("sync cycle cancelled, keeping previous snapshot",
			"failed", report.Failed(),
			"took", report.Duration.String(),
		)
		return report, err
	}

	var pending []pendingEvent
	for i, r := range results {
		report.Feeds[i] = FeedResult{Feed: s.feeds[i].label(), Events: len(r.events), Err: r.err}
		// Concatenate in configuration order so the stable sort below keeps
		// ties in feed order.
		for _, ev := range r.events {
			pending = append(pending, pendingEvent{
				key:        ics.FormatDate(ev.Start),
				event:      ev,
				calendarID: s.feeds[i].CalendarID,
			})
		}
	}
	slices.SortStableFunc(pending, func(a, b pendingEvent) int {
		return strings.Compare(a.key, b.key)
	})
	merged := make([]model.Event, len(pending))
	for i, p := range pending {
		merged[i] = p.event.Event(p.calendarID)
	}

	failed := report.Failed()
	if len(s.feeds) > 0 && failed == len(s.feeds) && s.opts.OnAllFailed != config.OnAllFailedCommit {
		report.Duration = time.Since(began)
		s.opts.Metrics.ObserveCycle(metrics.ResultRetained, report.Duration)
		appLog.Warn("sync cycle: every feed failed, keeping previous snapshot",
			"feeds", len(s.feeds),
			"took", report.Duration.String(),
		)
		return report, nil
	}

	snap, err := s.store.Commit(ctx, merged)
	report.Duration = time.Since(began)
	if err != nil {
		s.opts.Metrics.ObserveCycle(metrics.ResultFailed, report.Duration)
		appLog.Error("sync cycle: commit failed", err,
			"events", len(merged),
			"took", report.Duration.String(),
		)
		return report, err
	}

	report.Committed = true
	report.Snapshot = snap
	s.opts.Metrics.ObserveCycle(metrics.ResultCommitted, report.Duration)
	s.opts.Metrics.SetSnapshot(len(snap.Events), snap.LastModified)
	appLog.Info("sync cycle committed",
		"events", len(snap.Events),
		"feeds", len(s.feeds),
		"failed", failed,
		"last_modified", snap.LastModified.Format(time.RFC3339Nano),
		"took", report.Duration.String(),
	)
	return report, nil
}

type feedResult struct {
	events []ics.ParsedEvent
	err    error
}

// pendingEvent is a parsed event awaiting the merge. It is rendered into a
// model.Event only after sorting.
type pendingEvent struct {
	key        string
	event      ics.ParsedEvent
	calendarID string
}

// collect fetches and parses all feeds with bounded parallelism. Results are
// indexed by feed position, independent of completion order.
func (s *Syncer) collect(ctx context.Context) []feedResult {
	results := make([]feedResult, len(s.feeds))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, feed := range s.feeds {
		i, feed := i, feed
		g.Go(func() error {
			events, err := s.syncFeed(ctx, feed)
			results[i] = feedResult{events: events, err: err}
			s.opts.Metrics.ObserveFeed(feed.label(), err)
			if err != nil {
				appLog.Error("feed failed", err, "feed", feed.label())
			} else {
				appLog.Debug("feed parsed", "feed", feed.label(), "events", len(events))
			}
			// Per-feed failures must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Syncer) syncFeed(ctx context.Context, feed Feed) ([]ics.ParsedEvent, error) {
	raw, err := s.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		return nil, err
	}
	return ics.Parse(raw, s.opts.Location, ics.WithFloatingZone(feed.Floating)), nil
}
