package state

import (
	"context"
	"testing"
	"time"
)

func seedDescriptions(t *testing.T, mgr *Manager) {
	t.Helper()
	base := time.UnixMilli(1_700_000_000_000)
	items := []EventDescription{
		{EventID: "ev-1", CameraID: "o.d1", LoggerServer: "log1", Description: "A red car parked in the driveway", EventStart: base},
		{EventID: "ev-2", CameraID: "o.d1", LoggerServer: "log1", Description: "A person walking a dog", EventStart: base.Add(time.Minute)},
		{EventID: "ev-3", CameraID: "o.d2", LoggerServer: "log2", Description: "Delivery van with a RED logo", EventStart: base.Add(2 * time.Minute)},
	}
	for _, d := range items {
		if err := mgr.SaveDescription(context.Background(), d); err != nil {
			t.Fatalf("SaveDescription failed: %v", err)
		}
	}
}

func TestManager_SaveDescription(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	ctx := context.Background()

	seedDescriptions(t, mgr)

	d, err := mgr.GetDescription(ctx, "ev-2")
	if err != nil {
		t.Fatalf("GetDescription failed: %v", err)
	}
	if d == nil {
		t.Fatal("Expected description for ev-2")
	}
	if d.CameraID != "o.d1" || d.LoggerServer != "log1" || d.Description != "A person walking a dog" {
		t.Errorf("Unexpected description: %+v", d)
	}
	if d.EventStart.UnixMilli() != 1_700_000_060_000 {
		t.Errorf("Unexpected start: %d", d.EventStart.UnixMilli())
	}

	missing, err := mgr.GetDescription(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil for missing description, got %+v %v", missing, err)
	}
}

func TestManager_SaveDescription_KeepsFirst(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	ctx := context.Background()

	_ = mgr.SaveDescription(ctx, EventDescription{EventID: "ev-1", CameraID: "o.d", Description: "first", EventStart: time.Now()})
	_ = mgr.SaveDescription(ctx, EventDescription{EventID: "ev-1", CameraID: "o.d", Description: "second", EventStart: time.Now()})

	d, _ := mgr.GetDescription(ctx, "ev-1")
	if d.Description != "first" {
		t.Errorf("Expected first description to be kept, got %q", d.Description)
	}
	if n, _ := mgr.CountDescriptions(ctx); n != 1 {
		t.Errorf("Expected 1 description, got %d", n)
	}
}

func TestManager_SearchDescriptions(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	ctx := context.Background()

	seedDescriptions(t, mgr)

	results, err := mgr.SearchDescriptions(ctx, "red")
	if err != nil {
		t.Fatalf("SearchDescriptions failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].EventID != "ev-3" || results[1].EventID != "ev-1" {
		t.Errorf("Expected newest first, got %s, %s", results[0].EventID, results[1].EventID)
	}

	results, _ = mgr.SearchDescriptions(ctx, "100%_")
	if len(results) != 0 {
		t.Errorf("Wildcard characters must match literally, got %d results", len(results))
	}
}

func TestManager_DescribedEventIDs(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	ctx := context.Background()

	seedDescriptions(t, mgr)

	ids, err := mgr.DescribedEventIDs(ctx)
	if err != nil {
		t.Fatalf("DescribedEventIDs failed: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("Expected 3 ids, got %d", len(ids))
	}
	if _, ok := ids["ev-2"]; !ok {
		t.Error("Expected ev-2 in described ids")
	}

	has, _ := mgr.HasDescription(ctx, "ev-1")
	if !has {
		t.Error("Expected ev-1 to be described")
	}
}

func TestManager_ClearDescriptions(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()
	ctx := context.Background()

	seedDescriptions(t, mgr)

	n, err := mgr.ClearDescriptions(ctx)
	if err != nil {
		t.Fatalf("ClearDescriptions failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 removed, got %d", n)
	}
	if count, _ := mgr.CountDescriptions(ctx); count != 0 {
		t.Errorf("Expected empty store, got %d", count)
	}
}
