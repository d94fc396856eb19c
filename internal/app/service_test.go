package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"panelbank/api/internal/config"
	"panelbank/api/internal/librarypanels"
	"panelbank/api/internal/store"
)

type fakeStore struct {
	getLibraryPanelsForDashboardFn func(context.Context, int64) (map[string]store.LibraryPanel, error)
	connectLibraryPanelFn          func(context.Context, int64, string, int64, int64) error
	deleteDashboardFn              func(context.Context, int64) error
	createLibraryPanelFn           func(context.Context, store.LibraryPanel) (store.LibraryPanel, error)
	getLibraryPanelFn              func(context.Context, int64, string) (store.LibraryPanel, error)
	listLibraryPanelsFn            func(context.Context, int64) ([]store.LibraryPanel, error)
	updateLibraryPanelFn           func(context.Context, int64, string, string, json.RawMessage, int64) (store.LibraryPanel, error)
	deleteLibraryPanelFn           func(context.Context, int64, string) error
	listConnectionsFn              func(context.Context, int64) ([]store.Connection, error)
	connectedDashboardIDsFn        func(context.Context, int64) ([]int64, error)
	getDashboardFn                 func(context.Context, int64, string) (store.Dashboard, error)
	saveDashboardFn                func(context.Context, store.Dashboard, int64) (store.Dashboard, error)

	// sequence of store mutations, for ordering assertions
	calls []string
}

func (f *fakeStore) GetLibraryPanelsForDashboard(ctx context.Context, dashboardID int64) (map[string]store.LibraryPanel, error) {
	if f.getLibraryPanelsForDashboardFn != nil {
		return f.getLibraryPanelsForDashboardFn(ctx, dashboardID)
	}
	return map[string]store.LibraryPanel{}, nil
}

func (f *fakeStore) ConnectLibraryPanel(ctx context.Context, orgID int64, panelUID string, dashboardID, userID int64) error {
	f.calls = append(f.calls, "connect:"+panelUID)
	if f.connectLibraryPanelFn != nil {
		return f.connectLibraryPanelFn(ctx, orgID, panelUID, dashboardID, userID)
	}
	return nil
}

func (f *fakeStore) DeleteDashboard(ctx context.Context, dashboardID int64) error {
	f.calls = append(f.calls, "delete-dashboard")
	if f.deleteDashboardFn != nil {
		return f.deleteDashboardFn(ctx, dashboardID)
	}
	return nil
}

func (f *fakeStore) CreateLibraryPanel(ctx context.Context, panel store.LibraryPanel) (store.LibraryPanel, error) {
	if f.createLibraryPanelFn != nil {
		return f.createLibraryPanelFn(ctx, panel)
	}
	panel.ID = 1
	return panel, nil
}

func (f *fakeStore) GetLibraryPanel(ctx context.Context, orgID int64, uid string) (store.LibraryPanel, error) {
	if f.getLibraryPanelFn != nil {
		return f.getLibraryPanelFn(ctx, orgID, uid)
	}
	return store.LibraryPanel{}, store.ErrLibraryPanelNotFound
}

func (f *fakeStore) ListLibraryPanels(ctx context.Context, orgID int64) ([]store.LibraryPanel, error) {
	if f.listLibraryPanelsFn != nil {
		return f.listLibraryPanelsFn(ctx, orgID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateLibraryPanel(ctx context.Context, orgID int64, uid, name string, model json.RawMessage, userID int64) (store.LibraryPanel, error) {
	if f.updateLibraryPanelFn != nil {
		return f.updateLibraryPanelFn(ctx, orgID, uid, name, model, userID)
	}
	return store.LibraryPanel{}, store.ErrLibraryPanelNotFound
}

func (f *fakeStore) DeleteLibraryPanel(ctx context.Context, orgID int64, uid string) error {
	if f.deleteLibraryPanelFn != nil {
		return f.deleteLibraryPanelFn(ctx, orgID, uid)
	}
	return nil
}

func (f *fakeStore) ListConnections(ctx context.Context, libraryPanelID int64) ([]store.Connection, error) {
	if f.listConnectionsFn != nil {
		return f.listConnectionsFn(ctx, libraryPanelID)
	}
	return nil, nil
}

func (f *fakeStore) ConnectedDashboardIDs(ctx context.Context, libraryPanelID int64) ([]int64, error) {
	if f.connectedDashboardIDsFn != nil {
		return f.connectedDashboardIDsFn(ctx, libraryPanelID)
	}
	return nil, nil
}

func (f *fakeStore) GetDashboard(ctx context.Context, orgID int64, uid string) (store.Dashboard, error) {
	if f.getDashboardFn != nil {
		return f.getDashboardFn(ctx, orgID, uid)
	}
	return store.Dashboard{}, store.ErrDashboardNotFound
}

func (f *fakeStore) SaveDashboard(ctx context.Context, dash store.Dashboard, userID int64) (store.Dashboard, error) {
	f.calls = append(f.calls, "save:"+dash.UID)
	if f.saveDashboardFn != nil {
		return f.saveDashboardFn(ctx, dash, userID)
	}
	dash.ID = 42
	return dash, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func newTestService(fake *fakeStore, enabled bool) *Service {
	cfg := config.Config{LibraryPanelsEnabled: enabled}
	return New(cfg, fake, nil, nil)
}

func storedGraphPanel(uid, name string) store.LibraryPanel {
	return store.LibraryPanel{
		ID:    1,
		OrgID: 1,
		UID:   uid,
		Name:  name,
		Model: json.RawMessage(`{"type":"graph","title":"CPU usage"}`),
	}
}

func linkedDashboard(id int64, uid string) store.Dashboard {
	return store.Dashboard{
		ID:    id,
		OrgID: 1,
		UID:   uid,
		Title: "Ops",
		Data: map[string]any{
			"panels": []any{
				map[string]any{
					"id":           float64(1),
					"gridPos":      map[string]any{"x": float64(0), "y": float64(0)},
					"libraryPanel": map[string]any{"uid": "abc", "name": "Old Name"},
				},
			},
		},
	}
}

func TestGetDashboardExpandsReferences(t *testing.T) {
	fake := &fakeStore{
		getDashboardFn: func(context.Context, int64, string) (store.Dashboard, error) {
			return linkedDashboard(7, "dash-1"), nil
		},
		getLibraryPanelsForDashboardFn: func(context.Context, int64) (map[string]store.LibraryPanel, error) {
			return map[string]store.LibraryPanel{"abc": storedGraphPanel("abc", "New Name")}, nil
		},
	}
	service := newTestService(fake, true)

	dash, err := service.GetDashboard(context.Background(), store.Actor{OrgID: 1}, "dash-1")
	if err != nil {
		t.Fatalf("GetDashboard failed: %v", err)
	}

	panel := dash.Data["panels"].([]any)[0].(map[string]any)
	if panel["type"] != "graph" {
		t.Errorf("panel content not expanded: %#v", panel)
	}
	if panel["libraryPanel"].(map[string]any)["name"] != "New Name" {
		t.Error("reference name not refreshed on read")
	}
}

func TestGetDashboardFailsOnDanglingReference(t *testing.T) {
	fake := &fakeStore{
		getDashboardFn: func(context.Context, int64, string) (store.Dashboard, error) {
			return linkedDashboard(7, "dash-1"), nil
		},
	}
	service := newTestService(fake, true)

	_, err := service.GetDashboard(context.Background(), store.Actor{OrgID: 1}, "dash-1")
	if !errors.Is(err, librarypanels.ErrDanglingReference) {
		t.Fatalf("expected ErrDanglingReference, got %v", err)
	}
}

func TestSaveDashboardCollapsesThenPersistsThenLinks(t *testing.T) {
	var persisted store.Dashboard
	fake := &fakeStore{}
	fake.saveDashboardFn = func(_ context.Context, dash store.Dashboard, _ int64) (store.Dashboard, error) {
		persisted = dash
		dash.ID = 42
		return dash, nil
	}
	service := newTestService(fake, true)

	input := DashboardInput{
		UID:   "dash-1",
		Title: "Ops",
		Data: map[string]any{
			"panels": []any{
				map[string]any{
					"id":           float64(1),
					"gridPos":      map[string]any{"x": float64(0)},
					"type":         "graph",
					"title":        "expanded leftovers",
					"libraryPanel": map[string]any{"uid": "abc", "name": "CPU"},
				},
			},
		},
	}

	saved, err := service.SaveDashboard(context.Background(), store.Actor{UserID: 3, OrgID: 1}, input)
	if err != nil {
		t.Fatalf("SaveDashboard failed: %v", err)
	}
	if saved.ID != 42 {
		t.Fatalf("expected assigned id 42, got %d", saved.ID)
	}

	entry := persisted.Data["panels"].([]any)[0].(map[string]any)
	if _, leaked := entry["type"]; leaked {
		t.Error("expanded content persisted; collapse must run before save")
	}
	if _, leaked := entry["title"]; leaked {
		t.Error("expanded content persisted; collapse must run before save")
	}

	want := []string{"save:dash-1", "connect:abc"}
	if len(fake.calls) != len(want) || fake.calls[0] != want[0] || fake.calls[1] != want[1] {
		t.Errorf("expected persist before link, got call order %v", fake.calls)
	}
}

func TestSaveDashboardGeneratesUIDWhenMissing(t *testing.T) {
	fake := &fakeStore{}
	service := newTestService(fake, true)

	saved, err := service.SaveDashboard(context.Background(), store.Actor{OrgID: 1}, DashboardInput{Title: "New"})
	if err != nil {
		t.Fatalf("SaveDashboard failed: %v", err)
	}
	if saved.UID == "" {
		t.Error("expected a generated dashboard uid")
	}
}

func TestSaveDashboardWithFeatureDisabledSkipsTransformAndLink(t *testing.T) {
	var persisted store.Dashboard
	fake := &fakeStore{}
	fake.saveDashboardFn = func(_ context.Context, dash store.Dashboard, _ int64) (store.Dashboard, error) {
		persisted = dash
		dash.ID = 42
		return dash, nil
	}
	service := newTestService(fake, false)

	input := DashboardInput{
		UID: "dash-1",
		Data: map[string]any{
			"panels": []any{
				map[string]any{
					"id":           float64(1),
					"type":         "graph",
					"libraryPanel": map[string]any{"uid": "abc", "name": "CPU"},
				},
			},
		},
	}
	if _, err := service.SaveDashboard(context.Background(), store.Actor{OrgID: 1}, input); err != nil {
		t.Fatalf("SaveDashboard failed: %v", err)
	}

	entry := persisted.Data["panels"].([]any)[0].(map[string]any)
	if entry["type"] != "graph" {
		t.Error("disabled feature must leave the document untouched")
	}
	for _, call := range fake.calls {
		if call == "connect:abc" {
			t.Error("disabled feature must not write link rows")
		}
	}
}

func TestSaveDashboardFailsOnMalformedReference(t *testing.T) {
	service := newTestService(&fakeStore{}, true)

	input := DashboardInput{
		UID: "dash-1",
		Data: map[string]any{
			"panels": []any{
				map[string]any{"id": float64(1), "libraryPanel": map[string]any{"uid": "abc"}},
			},
		},
	}
	_, err := service.SaveDashboard(context.Background(), store.Actor{OrgID: 1}, input)
	if !errors.Is(err, librarypanels.ErrMalformedReference) {
		t.Fatalf("expected ErrMalformedReference, got %v", err)
	}
}

func TestDeleteDashboardDropsHostRow(t *testing.T) {
	var deletedID int64
	fake := &fakeStore{
		getDashboardFn: func(context.Context, int64, string) (store.Dashboard, error) {
			return linkedDashboard(7, "dash-1"), nil
		},
		deleteDashboardFn: func(_ context.Context, dashboardID int64) error {
			deletedID = dashboardID
			return nil
		},
	}
	service := newTestService(fake, true)

	if err := service.DeleteDashboard(context.Background(), store.Actor{OrgID: 1}, "dash-1"); err != nil {
		t.Fatalf("DeleteDashboard failed: %v", err)
	}
	if deletedID != 7 {
		t.Errorf("expected internal id 7 deleted, got %d", deletedID)
	}
}

func TestCreateLibraryPanelRequiresName(t *testing.T) {
	service := newTestService(&fakeStore{}, true)

	_, err := service.CreateLibraryPanel(context.Background(), store.Actor{OrgID: 1}, LibraryPanelInput{})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestCreateLibraryPanelGeneratesUID(t *testing.T) {
	var created store.LibraryPanel
	fake := &fakeStore{
		createLibraryPanelFn: func(_ context.Context, panel store.LibraryPanel) (store.LibraryPanel, error) {
			created = panel
			panel.ID = 1
			return panel, nil
		},
	}
	service := newTestService(fake, true)

	if _, err := service.CreateLibraryPanel(context.Background(), store.Actor{UserID: 3, OrgID: 1}, LibraryPanelInput{Name: "CPU"}); err != nil {
		t.Fatalf("CreateLibraryPanel failed: %v", err)
	}
	if created.UID == "" {
		t.Error("expected a generated panel uid")
	}
	if created.CreatedBy != 3 {
		t.Errorf("expected creating actor 3, got %d", created.CreatedBy)
	}
}
