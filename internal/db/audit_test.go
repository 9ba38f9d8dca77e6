package db

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/gsemu-project/gsemu/internal/events"
)

func openStore(t *testing.T) *AuditStore {
	t.Helper()
	s, err := OpenAuditStore(filepath.Join(t.TempDir(), "data", "audit.db"))
	if err != nil {
		t.Fatalf("OpenAuditStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	conn := events.ConnectionPayload{ConnID: "c-1", Remote: "10.0.0.2:5000", Listener: events.ServiceRouter}
	recorded := []events.Event{
		events.New(events.EventClientConnected, events.ServiceRouter, conn),
		events.New(events.EventHandshakeProgress, events.ServiceRouter, events.HandshakePayload{ConnectionPayload: conn, State: "KeyExchanged"}),
		events.New(events.EventCDKeyRequest, events.ServiceCDKey, events.CDKeyRequestPayload{Remote: "10.0.0.3:6000", MessageID: "1", RequestType: "Challenge", Replied: true}),
		{Type: events.EventShutdown, Source: events.ServiceSystem},
	}
	for _, e := range recorded {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record %s: %v", e.Type, err)
		}
	}

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}

	// Newest first.
	if entries[0].EventType != string(events.EventShutdown) || entries[0].Detail != nil {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[0].CreatedAt.IsZero() {
		t.Errorf("zero event time not stamped")
	}

	cd := entries[1]
	if cd.Source != events.ServiceCDKey || cd.Remote != "10.0.0.3:6000" || cd.ConnID != "" {
		t.Errorf("cdkey entry = %+v", cd)
	}
	var detail events.CDKeyRequestPayload
	if err := json.Unmarshal(cd.Detail, &detail); err != nil || !detail.Replied {
		t.Errorf("cdkey detail %s, %v", cd.Detail, err)
	}

	hs := entries[2]
	if hs.ConnID != "c-1" || hs.Remote != "10.0.0.2:5000" {
		t.Errorf("handshake entry = %+v", hs)
	}

	limited, err := s.Recent(ctx, 2)
	if err != nil || len(limited) != 2 || limited[0].ID != entries[0].ID {
		t.Fatalf("limited = %+v, %v", limited, err)
	}
}

func TestPrune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	old := events.Event{Type: events.EventClientConnected, Source: events.ServiceRouter, Time: time.Now().Add(-48 * time.Hour)}
	fresh := events.New(events.EventClientConnected, events.ServiceRouter, nil)
	for _, e := range []events.Event{old, old, fresh} {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	n, err := s.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned %d, want 2", n)
	}
	if count, _ := s.Count(ctx); count != 1 {
		t.Fatalf("count after prune = %d", count)
	}
}

func TestSubscribe(t *testing.T) {
	s := openStore(t)
	bus := events.NewEventBus()
	s.Subscribe(bus)

	ctx := context.Background()
	err := bus.EmitSync(ctx, events.New(events.EventProtocolError, events.ServiceWaitModule, events.ProtocolErrorPayload{
		ConnID: "c-9",
		Remote: "10.0.0.9:1",
		Kind:   "corrupt_buffer",
	}))
	if err != nil {
		t.Fatalf("EmitSync: %v", err)
	}
	bus.Stop()

	entries, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].ConnID != "c-9" || entries[0].Source != events.ServiceWaitModule {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestRecordNATRequest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	err := s.Record(ctx, events.New(events.EventNATRequest, events.ServiceNAT, events.NATRequestPayload{
		Remote:  "10.0.0.4:7000",
		Flags:   2,
		Seg:     5,
		Replied: true,
	}))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Remote != "10.0.0.4:7000" || entries[0].Source != events.ServiceNAT {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	s, err := OpenAuditStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, events.New(events.EventClientLogin, events.ServiceRouter, nil)); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenAuditStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if n, _ := s.Count(ctx); n != 1 {
		t.Fatalf("count after reopen = %d", n)
	}
}
