package gateway

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crowdforge/escrow-engine/pkg/escrow"
	"github.com/crowdforge/escrow-engine/pkg/logging"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// For early development we accept any origin; tighten later.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	feedWriteDeadline = 10 * time.Second
	feedBufferSize    = 64
)

// eventFeed fans committed ledger events out to websocket subscribers. A
// subscriber that cannot keep up is dropped rather than allowed to stall
// the ledger's commit path.
type eventFeed struct {
	logger *logging.ColoredLogger

	mu     sync.Mutex
	subs   map[chan escrow.Event]struct{}
	closed bool
}

func newEventFeed(logger *logging.ColoredLogger) *eventFeed {
	return &eventFeed{
		logger: logger,
		subs:   make(map[chan escrow.Event]struct{}),
	}
}

// Emit implements escrow.Sink.
func (f *eventFeed) Emit(event escrow.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- event:
		default:
			delete(f.subs, ch)
			close(ch)
			f.logger.ComponentWarn(logging.ComponentGateway, "dropping slow event subscriber")
		}
	}
}

func (f *eventFeed) subscribe() (chan escrow.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false
	}
	ch := make(chan escrow.Event, feedBufferSize)
	f.subs[ch] = struct{}{}
	return ch, true
}

func (f *eventFeed) unsubscribe(ch chan escrow.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

func (f *eventFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}

// handleEventFeed upgrades to a websocket and streams events. An "after"
// query parameter replays the journal tail first, so a reconnecting
// watcher sees every event exactly once in sequence order.
func (g *Gateway) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.ComponentWarn(logging.ComponentGateway, "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Subscribe before replay so no event falls between journal and feed.
	ch, ok := g.feed.subscribe()
	if !ok {
		return
	}
	defer g.feed.unsubscribe(ch)

	lastSeq, _ := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
	if g.journal != nil {
		for {
			events, err := g.journal.EventsSince(lastSeq, feedBufferSize)
			if err != nil {
				g.logger.ComponentError(logging.ComponentGateway, "event replay failed", zap.Error(err))
				return
			}
			if len(events) == 0 {
				break
			}
			for _, ev := range events {
				if err := writeFeedEvent(conn, ev); err != nil {
					return
				}
				lastSeq = ev.Seq
			}
		}
	}

	// Drain reads so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range ch {
		if ev.Seq <= lastSeq {
			continue
		}
		if err := writeFeedEvent(conn, ev); err != nil {
			return
		}
	}
}

func writeFeedEvent(conn *websocket.Conn, ev escrow.Event) error {
	conn.SetWriteDeadline(time.Now().Add(feedWriteDeadline))
	return conn.WriteJSON(ev)
}
