package stalker

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/unifi-toolkit/internal/unifi"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "stalker.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestStore_AddRemoveList(t *testing.T) {
	store := newTestStore(t)

	if err := store.Add("AA-BB-CC-DD-EE-FF", "laptop"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Add("11:22:33:44:55:66", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	watched, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(watched) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(watched))
	}
	if watched[0].MAC != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("expected canonical MAC, got %q", watched[0].MAC)
	}
	if watched[0].Label != "laptop" {
		t.Errorf("label = %q", watched[0].Label)
	}

	// Re-adding updates the label in place.
	if err := store.Add("aa:bb:cc:dd:ee:ff", "work laptop"); err != nil {
		t.Fatalf("Add (update): %v", err)
	}
	watched, _ = store.List()
	if len(watched) != 2 || watched[0].Label != "work laptop" {
		t.Errorf("expected updated label, got %+v", watched)
	}

	if err := store.Remove("AA:BB:CC:DD:EE:FF"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := store.Remove("aa:bb:cc:dd:ee:ff"); !errors.Is(err, ErrNotWatched) {
		t.Errorf("expected ErrNotWatched, got %v", err)
	}
	if err := store.Add("", "x"); err == nil {
		t.Error("expected error for empty mac")
	}
}

// fakeDirectory serves scripted station snapshots, one per poll.
type fakeDirectory struct {
	snapshots []map[string]unifi.Station
	calls     int
	err       error
}

func (f *fakeDirectory) ListStations(ctx context.Context) (map[string]unifi.Station, error) {
	if f.err != nil {
		return nil, f.err
	}
	snap := f.snapshots[min(f.calls, len(f.snapshots)-1)]
	f.calls++
	return snap, nil
}

type recordingSink struct {
	events []Event
}

func (s *recordingSink) Publish(ctx context.Context, ev Event) error {
	s.events = append(s.events, ev)
	return nil
}

func station(mac, ap string, blocked bool) unifi.Station {
	return unifi.Station{MAC: mac, APMAC: ap, IP: "10.0.0.9", Hostname: "phone", Blocked: blocked}
}

func newTestTracker(t *testing.T, dir Directory) (*Tracker, *Store, *recordingSink) {
	t.Helper()
	store := newTestStore(t)
	tracker := NewTracker(store, dir, time.Second, nil)
	sink := &recordingSink{}
	tracker.AddSink(sink)
	return tracker, store, sink
}

const mac = "aa:bb:cc:dd:ee:ff"

func TestTracker_FirstPollSeedsBaseline(t *testing.T) {
	dir := &fakeDirectory{snapshots: []map[string]unifi.Station{
		{mac: station(mac, "ap1", false)},
	}}
	tracker, store, sink := newTestTracker(t, dir)
	if err := store.Add(mac, "phone"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tracker.Poll(context.Background())
	if len(sink.events) != 0 {
		t.Errorf("expected no events on baseline poll, got %+v", sink.events)
	}

	snap := tracker.Snapshot()
	if len(snap) != 1 || !snap[0].Online || snap[0].AP != "ap1" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestTracker_AppearDisappear(t *testing.T) {
	dir := &fakeDirectory{snapshots: []map[string]unifi.Station{
		{}, // baseline: offline
		{mac: station(mac, "ap1", false)},
		{},
	}}
	tracker, store, sink := newTestTracker(t, dir)
	store.Add(mac, "phone")

	ctx := context.Background()
	tracker.Poll(ctx)
	tracker.Poll(ctx)
	tracker.Poll(ctx)

	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got %+v", sink.events)
	}
	if sink.events[0].Type != EventAppeared || sink.events[0].AP != "ap1" {
		t.Errorf("first event = %+v", sink.events[0])
	}
	if sink.events[1].Type != EventDisappeared || sink.events[1].PrevAP != "ap1" {
		t.Errorf("second event = %+v", sink.events[1])
	}
	if sink.events[0].Label != "phone" {
		t.Errorf("label = %q", sink.events[0].Label)
	}
}

func TestTracker_RoamNeedsConfirmation(t *testing.T) {
	dir := &fakeDirectory{snapshots: []map[string]unifi.Station{
		{mac: station(mac, "ap1", false)}, // baseline
		{mac: station(mac, "ap2", false)}, // candidate roam
		{mac: station(mac, "ap2", false)}, // confirmed
	}}
	tracker, store, sink := newTestTracker(t, dir)
	store.Add(mac, "")

	ctx := context.Background()
	tracker.Poll(ctx)
	tracker.Poll(ctx)
	if len(sink.events) != 0 {
		t.Fatalf("roam reported before confirmation: %+v", sink.events)
	}

	tracker.Poll(ctx)
	if len(sink.events) != 1 || sink.events[0].Type != EventRoamed {
		t.Fatalf("expected confirmed roam, got %+v", sink.events)
	}
	if sink.events[0].PrevAP != "ap1" || sink.events[0].AP != "ap2" {
		t.Errorf("roam event = %+v", sink.events[0])
	}
}

func TestTracker_RoamFlapSuppressed(t *testing.T) {
	dir := &fakeDirectory{snapshots: []map[string]unifi.Station{
		{mac: station(mac, "ap1", false)}, // baseline
		{mac: station(mac, "ap2", false)}, // blip
		{mac: station(mac, "ap1", false)}, // back home
		{mac: station(mac, "ap1", false)},
	}}
	tracker, store, sink := newTestTracker(t, dir)
	store.Add(mac, "")

	ctx := context.Background()
	for range 4 {
		tracker.Poll(ctx)
	}
	if len(sink.events) != 0 {
		t.Errorf("expected flap to be suppressed, got %+v", sink.events)
	}
}

func TestTracker_BlockTransitions(t *testing.T) {
	dir := &fakeDirectory{snapshots: []map[string]unifi.Station{
		{mac: station(mac, "ap1", false)},
		{mac: station(mac, "ap1", true)},
		{mac: station(mac, "ap1", false)},
	}}
	tracker, store, sink := newTestTracker(t, dir)
	store.Add(mac, "")

	ctx := context.Background()
	tracker.Poll(ctx)
	tracker.Poll(ctx)
	tracker.Poll(ctx)

	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got %+v", sink.events)
	}
	if sink.events[0].Type != EventBlocked || sink.events[1].Type != EventUnblocked {
		t.Errorf("events = %+v", sink.events)
	}
}

func TestTracker_DirectoryErrorSkipsCycle(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("controller down")}
	tracker, store, sink := newTestTracker(t, dir)
	store.Add(mac, "")

	tracker.Poll(context.Background())
	if len(sink.events) != 0 {
		t.Errorf("expected no events on failed poll, got %+v", sink.events)
	}
}

func TestTracker_UnwatchedForgotten(t *testing.T) {
	dir := &fakeDirectory{snapshots: []map[string]unifi.Station{
		{mac: station(mac, "ap1", false)},
	}}
	tracker, store, _ := newTestTracker(t, dir)
	store.Add(mac, "")

	ctx := context.Background()
	tracker.Poll(ctx)
	if len(tracker.Snapshot()) != 1 {
		t.Fatal("expected one tracked station")
	}

	store.Remove(mac)
	tracker.Poll(ctx)
	if len(tracker.Snapshot()) != 0 {
		t.Error("expected removed station to be forgotten")
	}
}
