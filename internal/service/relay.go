package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/domain"
)

func (s *FeedService) setRelay(st *relayState, relay *nostr.Relay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.relay = relay
}

// runRelay drives one relay connection: connect, subscribe, consume until
// the connection drops, then wait out the reconnect delay and try again.
// Failures are never fatal; the loop only exits on shutdown.
func (s *FeedService) runRelay(ctx context.Context, st *relayState) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil || s.shuttingDown.Load() {
			return
		}

		relay, err := nostr.RelayConnect(ctx, st.url)
		if err != nil {
			slog.Warn("relay connect failed",
				slog.String("relay", st.url),
				slog.String("error", err.Error()),
				slog.String("module", "relay"),
			)
		} else {
			slog.Info("connected to relay",
				slog.String("relay", st.url),
				slog.String("module", "relay"),
			)
			s.setRelay(st, relay)
			s.consume(ctx, st, relay)
			_ = relay.Close()
			s.setRelay(st, nil)
		}

		if ctx.Err() != nil || s.shuttingDown.Load() {
			return
		}
		atomic.AddInt64(&s.reconnects, 1)
		slog.Info("scheduling reconnect",
			slog.String("relay", st.url),
			slog.Duration("delay", s.opts.ReconnectDelay),
			slog.String("module", "relay"),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.ReconnectDelay):
		}
	}
}

// resumeFilter builds the subscription filter for a relay. The in-memory
// cursor takes precedence over the storage-derived value across reconnects
// within this process.
func (s *FeedService) resumeFilter(url string) nostr.Filter {
	filter := nostr.Filter{Kinds: append([]int(nil), domain.FeedKinds...)}
	if ts := s.cursor(url); ts > 0 {
		// +1 avoids re-receiving the boundary event.
		since := nostr.Timestamp(ts + 1)
		filter.Since = &since
	}
	return filter
}

// consume subscribes with the relay's resume filter and drains events until
// the subscription closes.
func (s *FeedService) consume(ctx context.Context, st *relayState, relay *nostr.Relay) {
	sub, err := relay.Subscribe(ctx, nostr.Filters{s.resumeFilter(st.url)})
	if err != nil {
		slog.Warn("subscribe failed",
			slog.String("relay", st.url),
			slog.String("error", err.Error()),
			slog.String("module", "relay"),
		)
		return
	}
	defer sub.Unsub()

	eose := sub.EndOfStoredEvents
	for {
		select {
		case <-ctx.Done():
			return
		case <-eose:
			// The channel is closed once; stop selecting on it.
			eose = nil
			s.handleEOSE(ctx, st.url)
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			s.handleEvent(ctx, st.url, ev)
		}
	}
}
