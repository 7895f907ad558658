package state

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestNewManager(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	if mgr.GetDB() == nil {
		t.Error("Database should be initialized")
	}

	if err := mgr.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestManager_SaveSystemState(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()

	if err := mgr.SaveSystemState(ctx, "test_key", "initial_value"); err != nil {
		t.Fatalf("SaveSystemState failed: %v", err)
	}
	if err := mgr.SaveSystemState(ctx, "test_key", "updated_value"); err != nil {
		t.Fatalf("SaveSystemState update failed: %v", err)
	}

	value, err := mgr.GetSystemState(ctx, "test_key")
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}
	if value != "updated_value" {
		t.Errorf("Expected 'updated_value', got '%s'", value)
	}
}

func TestManager_GetSystemState_NotFound(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	value, err := mgr.GetSystemState(context.Background(), "nonexistent_key")
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}
	if value != "" {
		t.Errorf("Expected empty string for nonexistent key, got '%s'", value)
	}
}

func TestManager_JSONRoundTrip(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()

	type blob struct {
		Count int      `json:"count"`
		Times []string `json:"times"`
	}

	var out blob
	found, err := mgr.LoadJSON(ctx, "quota_state", &out)
	if err != nil || found {
		t.Fatalf("Expected nothing stored, got found=%v err=%v", found, err)
	}

	if err := mgr.SaveJSON(ctx, "quota_state", blob{Count: 3, Times: []string{"a"}}); err != nil {
		t.Fatalf("SaveJSON failed: %v", err)
	}

	found, err = mgr.LoadJSON(ctx, "quota_state", &out)
	if err != nil || !found {
		t.Fatalf("LoadJSON failed: found=%v err=%v", found, err)
	}
	if out.Count != 3 || len(out.Times) != 1 {
		t.Errorf("Unexpected value: %+v", out)
	}

	if err := mgr.SaveSystemState(ctx, "broken", "{not json"); err != nil {
		t.Fatalf("SaveSystemState failed: %v", err)
	}
	if _, err := mgr.LoadJSON(ctx, "broken", &out); err == nil {
		t.Error("Expected decode error for corrupt value")
	}
}

func TestManager_StreamsEnabled(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()

	enabled, err := mgr.StreamsEnabled(ctx)
	if err != nil || !enabled {
		t.Fatalf("Streams should default to enabled: %v %v", enabled, err)
	}

	if err := mgr.SetStreamsEnabled(ctx, false); err != nil {
		t.Fatalf("SetStreamsEnabled failed: %v", err)
	}
	if enabled, _ := mgr.StreamsEnabled(ctx); enabled {
		t.Error("Streams should be disabled")
	}
}

func TestManager_RecoverState(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()

	recovered, err := mgr.RecoverState(ctx)
	if err != nil {
		t.Fatalf("RecoverState failed: %v", err)
	}
	if recovered.Descriptions != 0 || recovered.Triggers != 0 || len(recovered.SystemState) != 0 {
		t.Errorf("Expected empty state, got %+v", recovered)
	}

	_ = mgr.SaveDescription(ctx, EventDescription{EventID: "ev-1", CameraID: "o.d", Description: "a car", EventStart: time.Now()})
	_ = mgr.SaveTrigger(ctx, LPRTrigger{ID: "t1", CameraID: "o.d", LicensePlate: "ab12cde", Enabled: true})
	_ = mgr.SetStreamsEnabled(ctx, true)

	recovered, err = mgr.RecoverState(ctx)
	if err != nil {
		t.Fatalf("RecoverState failed: %v", err)
	}
	if recovered.Descriptions != 1 {
		t.Errorf("Expected 1 description, got %d", recovered.Descriptions)
	}
	if recovered.Triggers != 1 {
		t.Errorf("Expected 1 trigger, got %d", recovered.Triggers)
	}
	if recovered.SystemState[keyStreamsEnabled] != "true" {
		t.Errorf("Expected stream switch in system state, got %v", recovered.SystemState)
	}
}

func TestManager_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	mgr, err := NewManager(dir, nopLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := mgr.SaveSystemState(ctx, "k", "v"); err != nil {
		t.Fatalf("SaveSystemState failed: %v", err)
	}
	mgr.Close()

	mgr, err = NewManager(dir, nopLogger())
	if err != nil {
		t.Fatalf("NewManager reopen failed: %v", err)
	}
	defer mgr.Close()

	if v, _ := mgr.GetSystemState(ctx, "k"); v != "v" {
		t.Errorf("Expected persisted value, got '%s'", v)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	mgr := setupTestManager(t)
	defer mgr.Close()

	ctx := context.Background()
	done := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		go func(idx int) {
			key := fmt.Sprintf("key_%d", idx)
			if err := mgr.SaveSystemState(ctx, key, "value"); err != nil {
				t.Errorf("Concurrent SaveSystemState failed: %v", err)
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("key_%d", i)
		value, err := mgr.GetSystemState(ctx, key)
		if err != nil {
			t.Errorf("GetSystemState failed for %s: %v", key, err)
		}
		if value != "value" {
			t.Errorf("Expected 'value' for %s, got '%s'", key, value)
		}
	}
}
