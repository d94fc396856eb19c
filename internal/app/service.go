package app

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"panelbank/api/internal/cache"
	"panelbank/api/internal/config"
	"panelbank/api/internal/librarypanels"
	"panelbank/api/internal/search"
	"panelbank/api/internal/store"
	"panelbank/api/internal/util"
)

type dataStore interface {
	GetLibraryPanelsForDashboard(ctx context.Context, dashboardID int64) (map[string]store.LibraryPanel, error)
	ConnectLibraryPanel(ctx context.Context, orgID int64, panelUID string, dashboardID, userID int64) error
	DeleteDashboard(ctx context.Context, dashboardID int64) error
	CreateLibraryPanel(ctx context.Context, panel store.LibraryPanel) (store.LibraryPanel, error)
	GetLibraryPanel(ctx context.Context, orgID int64, uid string) (store.LibraryPanel, error)
	ListLibraryPanels(ctx context.Context, orgID int64) ([]store.LibraryPanel, error)
	UpdateLibraryPanel(ctx context.Context, orgID int64, uid, name string, model json.RawMessage, userID int64) (store.LibraryPanel, error)
	DeleteLibraryPanel(ctx context.Context, orgID int64, uid string) error
	ListConnections(ctx context.Context, libraryPanelID int64) ([]store.Connection, error)
	ConnectedDashboardIDs(ctx context.Context, libraryPanelID int64) ([]int64, error)
	GetDashboard(ctx context.Context, orgID int64, uid string) (store.Dashboard, error)
	SaveDashboard(ctx context.Context, dash store.Dashboard, userID int64) (store.Dashboard, error)
	Ping(ctx context.Context) error
}

type Service struct {
	cfg        config.Config
	store      dataStore
	panels     *librarypanels.Service
	panelCache *cache.PanelCache
	search     *search.Service
}

// New wires the dashboard pipeline. panelCache and searchService may be nil
// when Redis or Meilisearch are not configured.
func New(cfg config.Config, dataStore dataStore, panelCache *cache.PanelCache, searchService *search.Service) *Service {
	lookup := &cachingPanelStore{store: dataStore, cache: panelCache}
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		panels:     librarypanels.New(cfg.LibraryPanelsEnabled, lookup),
		panelCache: panelCache,
		search:     searchService,
	}
}

// Bootstrap refreshes the search index from the reference store.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAll()
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// GetDashboard loads the dashboard and expands every library panel reference
// into full authoritative content before it is served.
func (s *Service) GetDashboard(ctx context.Context, actor store.Actor, uid string) (store.Dashboard, error) {
	dash, err := s.store.GetDashboard(ctx, actor.OrgID, uid)
	if err != nil {
		return store.Dashboard{}, err
	}
	if err := s.panels.Expand(ctx, &dash); err != nil {
		return store.Dashboard{}, err
	}
	return dash, nil
}

// DeleteDashboard drops the host row and its link rows.
func (s *Service) DeleteDashboard(ctx context.Context, actor store.Actor, uid string) error {
	dash, err := s.store.GetDashboard(ctx, actor.OrgID, uid)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDashboard(ctx, dash.ID); err != nil {
		return err
	}
	s.invalidatePanelCache(ctx, dash.ID)
	return nil
}

// DashboardInput is the write-path payload for a dashboard save.
type DashboardInput struct {
	UID   string         `json:"uid"`
	Title string         `json:"title"`
	Data  map[string]any `json:"dashboard"`
}

// SaveDashboard collapses library panel entries to minimal references,
// persists the document, then records the reference graph. Linking happens
// strictly after the store has assigned identifiers.
func (s *Service) SaveDashboard(ctx context.Context, actor store.Actor, input DashboardInput) (store.Dashboard, error) {
	uid := strings.TrimSpace(input.UID)
	if uid == "" {
		uid = util.NewID("")
	}
	data := input.Data
	if data == nil {
		data = map[string]any{}
	}

	dash := store.Dashboard{
		OrgID: actor.OrgID,
		UID:   uid,
		Title: input.Title,
		Data:  data,
	}

	if err := s.panels.Collapse(&dash); err != nil {
		return store.Dashboard{}, err
	}

	saved, err := s.store.SaveDashboard(ctx, dash, actor.UserID)
	if err != nil {
		return store.Dashboard{}, err
	}

	if err := s.panels.Link(ctx, actor, &saved); err != nil {
		return store.Dashboard{}, err
	}

	s.invalidatePanelCache(ctx, saved.ID)
	return saved, nil
}

// LibraryPanelInput is the payload for creating or updating a library panel.
type LibraryPanelInput struct {
	UID      string          `json:"uid"`
	Name     string          `json:"name"`
	FolderID int64           `json:"folderId"`
	Model    json.RawMessage `json:"model"`
}

func (s *Service) CreateLibraryPanel(ctx context.Context, actor store.Actor, input LibraryPanelInput) (store.LibraryPanel, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.LibraryPanel{}, domainError(422, "VALIDATION_ERROR", "library panel name is required", nil)
	}
	uid := strings.TrimSpace(input.UID)
	if uid == "" {
		uid = util.NewID("")
	}

	panel, err := s.store.CreateLibraryPanel(ctx, store.LibraryPanel{
		OrgID:     actor.OrgID,
		FolderID:  input.FolderID,
		UID:       uid,
		Name:      name,
		Model:     input.Model,
		CreatedBy: actor.UserID,
	})
	if err != nil {
		return store.LibraryPanel{}, err
	}

	if s.search != nil {
		s.search.IndexPanel(panelRecord(panel))
	}
	return panel, nil
}

func (s *Service) GetLibraryPanel(ctx context.Context, actor store.Actor, uid string) (store.LibraryPanel, error) {
	return s.store.GetLibraryPanel(ctx, actor.OrgID, uid)
}

// SearchLibraryPanels serves both listing and name search.
func (s *Service) SearchLibraryPanels(ctx context.Context, actor store.Actor, q search.Query) (search.Response, error) {
	q.OrgID = actor.OrgID
	if s.search != nil {
		return s.search.Search(q), nil
	}

	// No search backend configured: plain store listing with in-process filter.
	panels, err := s.store.ListLibraryPanels(ctx, actor.OrgID)
	if err != nil {
		return search.Response{}, err
	}
	results := make([]search.Result, 0, len(panels))
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	for _, panel := range panels {
		if needle != "" && !strings.Contains(strings.ToLower(panel.Name), needle) {
			continue
		}
		if q.FolderID != 0 && panel.FolderID != q.FolderID {
			continue
		}
		results = append(results, search.Result{UID: panel.UID, Name: panel.Name, FolderID: panel.FolderID})
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}, nil
}

func (s *Service) UpdateLibraryPanel(ctx context.Context, actor store.Actor, uid string, input LibraryPanelInput) (store.LibraryPanel, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.LibraryPanel{}, domainError(422, "VALIDATION_ERROR", "library panel name is required", nil)
	}
	model := input.Model
	if len(model) == 0 {
		model = json.RawMessage(`{}`)
	}

	panel, err := s.store.UpdateLibraryPanel(ctx, actor.OrgID, uid, name, model, actor.UserID)
	if err != nil {
		return store.LibraryPanel{}, err
	}

	if s.search != nil {
		s.search.IndexPanel(panelRecord(panel))
	}

	// Connected dashboards must not serve the stale definition from cache.
	if dashboardIDs, err := s.store.ConnectedDashboardIDs(ctx, panel.ID); err != nil {
		log.Printf("library panel %s: list connected dashboards: %v", uid, err)
	} else {
		s.invalidatePanelCache(ctx, dashboardIDs...)
	}
	return panel, nil
}

func (s *Service) DeleteLibraryPanel(ctx context.Context, actor store.Actor, uid string) error {
	if err := s.store.DeleteLibraryPanel(ctx, actor.OrgID, uid); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeletePanel(uid)
	}
	return nil
}

func (s *Service) ListConnections(ctx context.Context, actor store.Actor, uid string) ([]store.Connection, error) {
	panel, err := s.store.GetLibraryPanel(ctx, actor.OrgID, uid)
	if err != nil {
		return nil, err
	}
	return s.store.ListConnections(ctx, panel.ID)
}

func (s *Service) invalidatePanelCache(ctx context.Context, dashboardIDs ...int64) {
	if s.panelCache == nil || len(dashboardIDs) == 0 {
		return
	}
	if err := s.panelCache.Invalidate(ctx, dashboardIDs...); err != nil {
		log.Printf("panel cache invalidation: %v", err)
	}
}

func panelRecord(panel store.LibraryPanel) search.PanelRecord {
	record := search.PanelRecord{
		UID:      panel.UID,
		Name:     panel.Name,
		OrgID:    panel.OrgID,
		FolderID: panel.FolderID,
	}
	var model struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(panel.Model, &model); err == nil {
		record.Type = model.Type
	}
	return record
}

// cachingPanelStore fronts the batched linked-panel read with the optional
// Redis cache. Cache errors degrade to a store read.
type cachingPanelStore struct {
	store dataStore
	cache *cache.PanelCache
}

func (c *cachingPanelStore) GetLibraryPanelsForDashboard(ctx context.Context, dashboardID int64) (map[string]store.LibraryPanel, error) {
	if c.cache != nil {
		panels, ok, err := c.cache.Get(ctx, dashboardID)
		if err != nil {
			log.Printf("panel cache read: %v", err)
		} else if ok {
			return panels, nil
		}
	}

	panels, err := c.store.GetLibraryPanelsForDashboard(ctx, dashboardID)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, dashboardID, panels); err != nil {
			log.Printf("panel cache write: %v", err)
		}
	}
	return panels, nil
}

func (c *cachingPanelStore) ConnectLibraryPanel(ctx context.Context, orgID int64, panelUID string, dashboardID, userID int64) error {
	if err := c.store.ConnectLibraryPanel(ctx, orgID, panelUID, dashboardID, userID); err != nil {
		return err
	}
	if c.cache != nil {
		if err := c.cache.Invalidate(ctx, dashboardID); err != nil {
			log.Printf("panel cache invalidation: %v", err)
		}
	}
	return nil
}
