package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/relaykit/invoke-go/invoke/store"
)

// runStoreSuite exercises the Store contract against any backend.
//
// Every implementation must pass the same behavior checks: save and list
// round-trips, ordering guarantees, limit handling, and closed-store
// errors.
//
// Tool and correlation keys carry a unique suffix so the suite stays
// correct against shared databases that keep rows between runs.
func runStoreSuite(t *testing.T, name string, open func(t *testing.T) store.Store) {
	t.Helper()
	ctx := context.Background()
	uniq := func(s string) string {
		return fmt.Sprintf("%s-%d", s, time.Now().UnixNano())
	}

	t.Run(name+"/save and list by tool", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		searchTool := uniq("web_search")
		mailTool := uniq("mail.api")

		for i := 0; i < 3; i++ {
			rec := store.Record{
				CorrelationID: uniq("corr-a"),
				Tool:          searchTool,
				Target:        "api.example.com",
				Success:       i%2 == 0,
				Retries:       i,
				Elapsed:       time.Duration(i+1) * 100 * time.Millisecond,
			}
			if !rec.Success {
				rec.ErrorKind = "network"
				rec.ErrorMessage = "connection refused"
			}
			if err := st.SaveRecord(ctx, rec); err != nil {
				t.Fatalf("SaveRecord() error = %v", err)
			}
		}
		if err := st.SaveRecord(ctx, store.Record{
			CorrelationID: uniq("corr-b"),
			Tool:          mailTool,
			Target:        "mail.api",
			Success:       true,
		}); err != nil {
			t.Fatalf("SaveRecord() error = %v", err)
		}

		records, err := st.ListByTool(ctx, searchTool, 0)
		if err != nil {
			t.Fatalf("ListByTool() error = %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("ListByTool() returned %d records, want 3", len(records))
		}
		// Most recent first: the last save had Retries=2.
		if records[0].Retries != 2 {
			t.Errorf("ListByTool()[0].Retries = %d, want 2 (newest first)", records[0].Retries)
		}
		if records[0].ID == 0 {
			t.Error("ListByTool()[0].ID = 0, want a storage-assigned ID")
		}
		if records[0].CreatedAt.IsZero() {
			t.Error("ListByTool()[0].CreatedAt is zero, want a stamp")
		}
	})

	t.Run(name+"/list by tool honors limit", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		calcTool := uniq("calculator")
		for i := 0; i < 5; i++ {
			if err := st.SaveRecord(ctx, store.Record{
				CorrelationID: uniq("corr-limit"),
				Tool:          calcTool,
				Retries:       i,
			}); err != nil {
				t.Fatalf("SaveRecord() error = %v", err)
			}
		}

		records, err := st.ListByTool(ctx, calcTool, 2)
		if err != nil {
			t.Fatalf("ListByTool() error = %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("ListByTool(limit=2) returned %d records", len(records))
		}
		if records[0].Retries != 4 || records[1].Retries != 3 {
			t.Errorf("ListByTool(limit=2) retries = [%d %d], want [4 3]",
				records[0].Retries, records[1].Retries)
		}
	})

	t.Run(name+"/list by correlation keeps save order", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		// A fallback chain: primary fails, fallback succeeds.
		chainID := uniq("corr-chain")
		if err := st.SaveRecord(ctx, store.Record{
			CorrelationID: chainID,
			Tool:          "web_search",
			Success:       false,
			ErrorKind:     "network",
		}); err != nil {
			t.Fatalf("SaveRecord() error = %v", err)
		}
		if err := st.SaveRecord(ctx, store.Record{
			CorrelationID: chainID,
			Tool:          "web_search_requests",
			Success:       true,
			FallbackUsed:  true,
			Meta: map[string]interface{}{
				"primary_tool":  "web_search",
				"fallback_tool": "web_search_requests",
			},
		}); err != nil {
			t.Fatalf("SaveRecord() error = %v", err)
		}

		records, err := st.ListByCorrelation(ctx, chainID)
		if err != nil {
			t.Fatalf("ListByCorrelation() error = %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("ListByCorrelation() returned %d records, want 2", len(records))
		}
		if records[0].Tool != "web_search" || records[1].Tool != "web_search_requests" {
			t.Errorf("ListByCorrelation() order = [%s %s], want primary first",
				records[0].Tool, records[1].Tool)
		}
		if got := records[1].Meta["fallback_tool"]; got != "web_search_requests" {
			t.Errorf("Meta[fallback_tool] = %v, want %q", got, "web_search_requests")
		}
	})

	t.Run(name+"/unknown keys return empty", func(t *testing.T) {
		st := open(t)
		defer func() { _ = st.Close() }()

		records, err := st.ListByTool(ctx, "never_used", 0)
		if err != nil {
			t.Fatalf("ListByTool() error = %v", err)
		}
		if len(records) != 0 {
			t.Errorf("ListByTool() returned %d records, want 0", len(records))
		}

		records, err = st.ListByCorrelation(ctx, "never_used")
		if err != nil {
			t.Fatalf("ListByCorrelation() error = %v", err)
		}
		if len(records) != 0 {
			t.Errorf("ListByCorrelation() returned %d records, want 0", len(records))
		}
	})

	t.Run(name+"/closed store rejects operations", func(t *testing.T) {
		st := open(t)
		if err := st.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
		// Double close is a no-op.
		if err := st.Close(); err != nil {
			t.Fatalf("second Close() error = %v", err)
		}

		if err := st.SaveRecord(ctx, store.Record{Tool: "x"}); !errors.Is(err, store.ErrClosed) {
			t.Errorf("SaveRecord() after Close error = %v, want ErrClosed", err)
		}
		if _, err := st.ListByTool(ctx, "x", 0); !errors.Is(err, store.ErrClosed) {
			t.Errorf("ListByTool() after Close error = %v, want ErrClosed", err)
		}
		if _, err := st.ListByCorrelation(ctx, "x"); !errors.Is(err, store.ErrClosed) {
			t.Errorf("ListByCorrelation() after Close error = %v, want ErrClosed", err)
		}
	})
}
