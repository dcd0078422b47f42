package stalker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nugget/unifi-toolkit/internal/metrics"
	"github.com/nugget/unifi-toolkit/internal/unifi"
)

// Event types emitted by the tracker.
const (
	EventAppeared    = "appeared"
	EventDisappeared = "disappeared"
	EventRoamed      = "roamed"
	EventBlocked     = "blocked"
	EventUnblocked   = "unblocked"
)

// Event is one observed presence change for a watched station.
type Event struct {
	Type     string    `json:"type"`
	MAC      string    `json:"mac"`
	Label    string    `json:"label,omitempty"`
	At       time.Time `json:"at"`
	AP       string    `json:"ap,omitempty"`
	PrevAP   string    `json:"prev_ap,omitempty"`
	IP       string    `json:"ip,omitempty"`
	Hostname string    `json:"hostname,omitempty"`
}

// Sink receives tracker events. Publish must be safe for concurrent
// use; a sink error is logged and never stops the tracker.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Directory enumerates currently connected stations keyed by MAC.
// Satisfied by *unifi.Client.
type Directory interface {
	ListStations(ctx context.Context) (map[string]unifi.Station, error)
}

// Status is the tracker's current view of one watched station.
type Status struct {
	MAC      string    `json:"mac"`
	Label    string    `json:"label,omitempty"`
	Online   bool      `json:"online"`
	AP       string    `json:"ap,omitempty"`
	IP       string    `json:"ip,omitempty"`
	Hostname string    `json:"hostname,omitempty"`
	Blocked  bool      `json:"blocked"`
	LastSeen time.Time `json:"last_seen,omitzero"`
}

// stationState carries per-station poll-to-poll memory. A roam is only
// reported once the station has been seen on the same new AP for two
// consecutive polls, which filters the flapping UniFi reports during a
// handoff.
type stationState struct {
	online       bool
	ap           string
	blocked      bool
	ip           string
	hostname     string
	lastSeen     time.Time
	pendingAP    string
	pendingPolls int
}

const roamConfirmPolls = 2

// DefaultInterval is the poll cadence when none is configured.
const DefaultInterval = 30 * time.Second

// Tracker polls a station directory and diffs consecutive snapshots
// for the watched MACs. The first sighting of a watched station seeds
// its baseline without emitting events.
type Tracker struct {
	store    *Store
	dir      Directory
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	known  map[string]*stationState
	sinks  []Sink
	labels map[string]string
}

// NewTracker creates a tracker. A non-positive interval falls back to
// DefaultInterval.
func NewTracker(store *Store, dir Directory, interval time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		store:    store,
		dir:      dir,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		known:    make(map[string]*stationState),
		labels:   make(map[string]string),
	}
}

// AddSink registers an event sink. Safe to call while running.
func (t *Tracker) AddSink(sink Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks = append(t.sinks, sink)
}

// Run polls until ctx is cancelled. An immediate poll precedes the
// ticker so the baseline exists as soon as the tracker starts.
func (t *Tracker) Run(ctx context.Context) {
	t.logger.Info("tracker started", "interval", t.interval.String())

	t.Poll(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("tracker stopped")
			return
		case <-ticker.C:
			t.Poll(ctx)
		}
	}
}

// Poll runs one poll cycle: enumerate stations, diff against the
// previous cycle, and publish any events.
func (t *Tracker) Poll(ctx context.Context) {
	m := metrics.Get()
	m.TrackerPolls.Inc()

	watched, err := t.store.List()
	if err != nil {
		m.TrackerPollErrors.Inc()
		t.logger.Error("watchlist read failed", "error", err)
		return
	}
	m.WatchedStations.Set(float64(len(watched)))
	if len(watched) == 0 {
		t.mu.Lock()
		clear(t.known)
		clear(t.labels)
		t.mu.Unlock()
		return
	}

	stations, err := t.dir.ListStations(ctx)
	if err != nil {
		m.TrackerPollErrors.Inc()
		t.logger.Warn("station enumeration failed", "error", err)
		return
	}

	events := t.diff(watched, stations)
	for _, ev := range events {
		m.TrackerEvents.WithLabelValues(ev.Type).Inc()
		t.publish(ctx, ev)
	}
}

// diff updates per-station state and returns the events this cycle
// produced.
func (t *Tracker) diff(watched []Watched, stations map[string]unifi.Station) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var events []Event

	onList := make(map[string]bool, len(watched))
	for _, w := range watched {
		onList[w.MAC] = true
		t.labels[w.MAC] = w.Label

		station, online := stations[w.MAC]
		prev, tracked := t.known[w.MAC]

		if !tracked {
			// First cycle for this MAC seeds the baseline silently.
			state := &stationState{online: online}
			if online {
				state.ap = station.APMAC
				state.blocked = station.Blocked
				state.ip = station.IP
				state.hostname = station.Hostname
				state.lastSeen = now
			}
			t.known[w.MAC] = state
			continue
		}

		base := Event{MAC: w.MAC, Label: w.Label, At: now}
		if online {
			base.AP = station.APMAC
			base.IP = station.IP
			base.Hostname = station.Hostname
		}

		switch {
		case online && !prev.online:
			ev := base
			ev.Type = EventAppeared
			events = append(events, ev)
			prev.ap = station.APMAC
			prev.pendingAP = ""
			prev.pendingPolls = 0

		case !online && prev.online:
			ev := base
			ev.Type = EventDisappeared
			ev.PrevAP = prev.ap
			events = append(events, ev)
			prev.pendingAP = ""
			prev.pendingPolls = 0

		case online && station.APMAC != prev.ap && station.APMAC != "":
			if station.APMAC == prev.pendingAP {
				prev.pendingPolls++
			} else {
				prev.pendingAP = station.APMAC
				prev.pendingPolls = 1
			}
			if prev.pendingPolls >= roamConfirmPolls {
				ev := base
				ev.Type = EventRoamed
				ev.PrevAP = prev.ap
				events = append(events, ev)
				prev.ap = station.APMAC
				prev.pendingAP = ""
				prev.pendingPolls = 0
			}

		case online:
			// Back on the previous AP: drop any half-confirmed roam.
			prev.pendingAP = ""
			prev.pendingPolls = 0
		}

		if online {
			if station.Blocked != prev.blocked {
				ev := base
				if station.Blocked {
					ev.Type = EventBlocked
				} else {
					ev.Type = EventUnblocked
				}
				events = append(events, ev)
			}
			prev.blocked = station.Blocked
			prev.ip = station.IP
			prev.hostname = station.Hostname
			prev.lastSeen = now
		}
		prev.online = online
	}

	// Forget stations removed from the watchlist.
	for mac := range t.known {
		if !onList[mac] {
			delete(t.known, mac)
			delete(t.labels, mac)
		}
	}

	return events
}

func (t *Tracker) publish(ctx context.Context, ev Event) {
	t.mu.Lock()
	sinks := make([]Sink, len(t.sinks))
	copy(sinks, t.sinks)
	t.mu.Unlock()

	t.logger.Info("station event",
		"type", ev.Type,
		"mac", ev.MAC,
		"label", ev.Label,
		"ap", ev.AP,
	)
	for _, sink := range sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			t.logger.Warn("event sink failed", "type", ev.Type, "mac", ev.MAC, "error", err)
		}
	}
}

// Snapshot returns the tracker's current view of every watched
// station, ordered by MAC.
func (t *Tracker) Snapshot() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	statuses := make([]Status, 0, len(t.known))
	for mac, state := range t.known {
		statuses = append(statuses, Status{
			MAC:      mac,
			Label:    t.labels[mac],
			Online:   state.online,
			AP:       state.ap,
			IP:       state.ip,
			Hostname: state.hostname,
			Blocked:  state.blocked,
			LastSeen: state.lastSeen,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].MAC < statuses[j].MAC })
	return statuses
}
