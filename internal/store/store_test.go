package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/portless-dev/portless/internal/registry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettingsRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.SaveSettings(ctx, map[string]string{
		SettingHTTPSEnabled:     "true",
		SettingShutdownChildren: "false",
	})
	if err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	settings, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if settings[SettingHTTPSEnabled] != "true" {
		t.Errorf("https_enabled = %q", settings[SettingHTTPSEnabled])
	}

	// Upsert overwrites.
	if err := s.SaveSettings(ctx, map[string]string{SettingHTTPSEnabled: "false"}); err != nil {
		t.Fatal(err)
	}
	enabled, err := s.BoolSetting(ctx, SettingHTTPSEnabled, true)
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		t.Error("BoolSetting should reflect the overwrite")
	}
}

func TestBoolSettingFallback(t *testing.T) {
	s := openTestStore(t)

	enabled, err := s.BoolSetting(context.Background(), "missing", true)
	if err != nil {
		t.Fatal(err)
	}
	if !enabled {
		t.Error("missing key should yield fallback")
	}
}

func TestSnapshotRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	services := []registry.Service{
		{Domain: "api.localhost", Port: 4000, PID: 123, Directory: "/work/api", StartedAt: started},
		{Domain: "shop.localhost", Port: 4001, Directory: "/work/shop", StartedAt: started},
	}
	if err := s.SaveSnapshot(ctx, services); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	loaded, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d services; want 2", len(loaded))
	}
	if loaded[0].Domain != "api.localhost" || loaded[1].Domain != "shop.localhost" {
		t.Errorf("snapshot order: %+v", loaded)
	}
	if loaded[0].PID != 123 || loaded[0].Port != 4000 {
		t.Errorf("service fields lost: %+v", loaded[0])
	}
	if !loaded[0].StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v; want %v", loaded[0].StartedAt, started)
	}

	// Saving a new snapshot replaces the old one.
	if err := s.SaveSnapshot(ctx, services[:1]); err != nil {
		t.Fatal(err)
	}
	loaded, err = s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d services after replace; want 1", len(loaded))
	}
}

func TestSnapshotEmpty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	loaded, err := s.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Errorf("fresh store should have no services, got %d", len(loaded))
	}

	if err := s.SaveSnapshot(ctx, nil); err != nil {
		t.Fatalf("SaveSnapshot(nil): %v", err)
	}
}
