package lantern

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(StoreConfig{Path: filepath.Join(t.TempDir(), "ws.db")})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_Connections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conn := Connection{
		Name:     "prod",
		URL:      "http://db:8123",
		Username: "reader",
		Password: []byte("sealed"),
		Database: "logs",
	}
	if err := store.PutConnection(ctx, conn); err != nil {
		t.Fatalf("PutConnection: %v", err)
	}

	got, err := store.GetConnection(ctx, "prod")
	if err != nil {
		t.Fatalf("GetConnection: %v", err)
	}
	if got.URL != conn.URL || got.Username != conn.Username || string(got.Password) != "sealed" {
		t.Errorf("got %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	// Upsert replaces.
	conn.URL = "http://db2:8123"
	if err := store.PutConnection(ctx, conn); err != nil {
		t.Fatalf("PutConnection update: %v", err)
	}
	got, err = store.GetConnection(ctx, "prod")
	if err != nil {
		t.Fatalf("GetConnection after update: %v", err)
	}
	if got.URL != "http://db2:8123" {
		t.Errorf("URL = %q after upsert", got.URL)
	}

	list, err := store.ListConnections(ctx)
	if err != nil {
		t.Fatalf("ListConnections: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("connections = %d, want 1", len(list))
	}

	if err := store.DeleteConnection(ctx, "prod"); err != nil {
		t.Fatalf("DeleteConnection: %v", err)
	}
	if _, err := store.GetConnection(ctx, "prod"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: %v, want ErrNotFound", err)
	}
	if err := store.DeleteConnection(ctx, "prod"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: %v, want ErrNotFound", err)
	}
}

func TestStore_ConnectionNameRequired(t *testing.T) {
	store := newTestStore(t)
	if err := store.PutConnection(context.Background(), Connection{URL: "http://db"}); err == nil {
		t.Error("nameless connection accepted")
	}
}

func TestStore_Dashboards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	saved, err := store.PutDashboard(ctx, Dashboard{Name: "errors", Definition: `{"panels":[]}`})
	if err != nil {
		t.Fatalf("PutDashboard: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("ID not generated")
	}

	got, err := store.GetDashboard(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetDashboard: %v", err)
	}
	if got.Name != "errors" || got.Definition != `{"panels":[]}` {
		t.Errorf("got %+v", got)
	}

	saved.Definition = `{"panels":[{"q":"SELECT 1"}]}`
	if _, err := store.PutDashboard(ctx, saved); err != nil {
		t.Fatalf("PutDashboard update: %v", err)
	}
	list, err := store.ListDashboards(ctx)
	if err != nil {
		t.Fatalf("ListDashboards: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("dashboards = %d, want 1", len(list))
	}
	if list[0].Definition != saved.Definition {
		t.Errorf("definition not updated: %q", list[0].Definition)
	}

	if err := store.DeleteDashboard(ctx, saved.ID); err != nil {
		t.Fatalf("DeleteDashboard: %v", err)
	}
	if _, err := store.GetDashboard(ctx, saved.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: %v, want ErrNotFound", err)
	}
}

func TestStore_SavedQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	saved, err := store.PutSavedQuery(ctx, SavedQuery{Name: "top errors", SQL: "SELECT * FROM errors"})
	if err != nil {
		t.Fatalf("PutSavedQuery: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("ID not generated")
	}

	list, err := store.ListSavedQueries(ctx)
	if err != nil {
		t.Fatalf("ListSavedQueries: %v", err)
	}
	if len(list) != 1 || list[0].SQL != "SELECT * FROM errors" {
		t.Errorf("list = %+v", list)
	}

	if _, err := store.PutSavedQuery(ctx, SavedQuery{Name: "incomplete"}); err == nil {
		t.Error("query without sql accepted")
	}

	if err := store.DeleteSavedQuery(ctx, saved.ID); err != nil {
		t.Fatalf("DeleteSavedQuery: %v", err)
	}
	if err := store.DeleteSavedQuery(ctx, saved.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: %v, want ErrNotFound", err)
	}
}

func TestStore_Settings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetSetting(ctx, "theme"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing setting: %v, want ErrNotFound", err)
	}

	if err := store.PutSetting(ctx, "theme", "dark"); err != nil {
		t.Fatalf("PutSetting: %v", err)
	}
	if err := store.PutSetting(ctx, "theme", "light"); err != nil {
		t.Fatalf("PutSetting update: %v", err)
	}

	got, err := store.GetSetting(ctx, "theme")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if got != "light" {
		t.Errorf("setting = %q, want light", got)
	}

	all, err := store.ListSettings(ctx)
	if err != nil {
		t.Fatalf("ListSettings: %v", err)
	}
	if len(all) != 1 || all["theme"] != "light" {
		t.Errorf("settings = %v", all)
	}
}

func TestStore_Closed(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	ctx := context.Background()
	if _, err := store.ListConnections(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("list on closed store: %v, want ErrStoreClosed", err)
	}
	if err := store.PutSetting(ctx, "k", "v"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("put on closed store: %v, want ErrStoreClosed", err)
	}
}
