package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrLibraryPanelNotFound       = errors.New("library panel not found")
	ErrLibraryPanelExists         = errors.New("library panel with that name already exists in the folder")
	ErrLibraryPanelHasConnections = errors.New("library panel is connected to dashboards")
	ErrDashboardNotFound          = errors.New("dashboard not found")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// GetLibraryPanelsForDashboard batch-fetches every library panel connected to
// the dashboard via the link table, keyed by panel uid. One query regardless
// of how many panels the dashboard references.
func (s *PostgresStore) GetLibraryPanelsForDashboard(ctx context.Context, dashboardID int64) (map[string]LibraryPanel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lp.id, lp.org_id, lp.folder_id, lp.uid, lp.name, lp.model, lp.created, lp.created_by, lp.updated, lp.updated_by
		FROM library_panel lp
		JOIN library_panel_dashboard lpd ON lpd.librarypanel_id = lp.id
		WHERE lpd.dashboard_id=$1
	`, dashboardID)
	if err != nil {
		return nil, fmt.Errorf("get library panels for dashboard: %w", err)
	}
	defer rows.Close()

	panels := make(map[string]LibraryPanel)
	for rows.Next() {
		var item LibraryPanel
		if err := rows.Scan(&item.ID, &item.OrgID, &item.FolderID, &item.UID, &item.Name, &item.Model, &item.Created, &item.CreatedBy, &item.Updated, &item.UpdatedBy); err != nil {
			return nil, fmt.Errorf("scan library panel: %w", err)
		}
		panels[item.UID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate library panels: %w", err)
	}
	return panels, nil
}

// ConnectLibraryPanel records that the dashboard references the panel. The
// unique index on (librarypanel_id, dashboard_id) is the authoritative guard;
// re-connecting an already connected pair is a no-op.
func (s *PostgresStore) ConnectLibraryPanel(ctx context.Context, orgID int64, panelUID string, dashboardID, userID int64) error {
	var panelID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM library_panel WHERE org_id=$1 AND uid=$2
	`, orgID, panelUID).Scan(&panelID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrLibraryPanelNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup library panel %s: %w", panelUID, err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO library_panel_dashboard (librarypanel_id, dashboard_id, created_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (librarypanel_id, dashboard_id) DO NOTHING
	`, panelID, dashboardID, userID); err != nil {
		return fmt.Errorf("connect library panel %s: %w", panelUID, err)
	}
	return nil
}

// DisconnectDashboard removes every link row for the dashboard.
func (s *PostgresStore) DisconnectDashboard(ctx context.Context, dashboardID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM library_panel_dashboard WHERE dashboard_id=$1`, dashboardID)
	if err != nil {
		return fmt.Errorf("disconnect dashboard: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountConnections(ctx context.Context, libraryPanelID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM library_panel_dashboard WHERE librarypanel_id=$1
	`, libraryPanelID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count connections: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListConnections(ctx context.Context, libraryPanelID int64) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, librarypanel_id, dashboard_id, created, created_by
		FROM library_panel_dashboard
		WHERE librarypanel_id=$1
		ORDER BY created ASC
	`, libraryPanelID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	items := make([]Connection, 0)
	for rows.Next() {
		var item Connection
		if err := rows.Scan(&item.ID, &item.LibraryPanelID, &item.DashboardID, &item.Created, &item.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return items, nil
}

// ConnectedDashboardIDs returns the dashboards currently referencing the panel.
func (s *PostgresStore) ConnectedDashboardIDs(ctx context.Context, libraryPanelID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dashboard_id FROM library_panel_dashboard WHERE librarypanel_id=$1
	`, libraryPanelID)
	if err != nil {
		return nil, fmt.Errorf("connected dashboard ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan dashboard id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dashboard ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) CreateLibraryPanel(ctx context.Context, panel LibraryPanel) (LibraryPanel, error) {
	model := panel.Model
	if len(model) == 0 {
		model = json.RawMessage(`{}`)
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO library_panel (org_id, folder_id, uid, name, model, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $6)
		ON CONFLICT (org_id, folder_id, name) DO NOTHING
		RETURNING id, created, updated
	`, panel.OrgID, panel.FolderID, panel.UID, panel.Name, string(model), panel.CreatedBy).Scan(&panel.ID, &panel.Created, &panel.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return LibraryPanel{}, ErrLibraryPanelExists
	}
	if err != nil {
		return LibraryPanel{}, fmt.Errorf("create library panel: %w", err)
	}
	panel.Model = model
	panel.UpdatedBy = panel.CreatedBy
	return panel, nil
}

func (s *PostgresStore) GetLibraryPanel(ctx context.Context, orgID int64, uid string) (LibraryPanel, error) {
	var item LibraryPanel
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, folder_id, uid, name, model, created, created_by, updated, updated_by
		FROM library_panel
		WHERE org_id=$1 AND uid=$2
	`, orgID, uid).Scan(&item.ID, &item.OrgID, &item.FolderID, &item.UID, &item.Name, &item.Model, &item.Created, &item.CreatedBy, &item.Updated, &item.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return LibraryPanel{}, ErrLibraryPanelNotFound
	}
	if err != nil {
		return LibraryPanel{}, fmt.Errorf("get library panel: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListLibraryPanels(ctx context.Context, orgID int64) ([]LibraryPanel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, folder_id, uid, name, model, created, created_by, updated, updated_by
		FROM library_panel
		WHERE org_id=$1
		ORDER BY name ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list library panels: %w", err)
	}
	defer rows.Close()

	items := make([]LibraryPanel, 0)
	for rows.Next() {
		var item LibraryPanel
		if err := rows.Scan(&item.ID, &item.OrgID, &item.FolderID, &item.UID, &item.Name, &item.Model, &item.Created, &item.CreatedBy, &item.Updated, &item.UpdatedBy); err != nil {
			return nil, fmt.Errorf("scan library panel: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate library panels: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateLibraryPanel(ctx context.Context, orgID int64, uid, name string, model json.RawMessage, userID int64) (LibraryPanel, error) {
	var item LibraryPanel
	err := s.db.QueryRowContext(ctx, `
		UPDATE library_panel
		SET name=$3, model=$4::jsonb, updated=NOW(), updated_by=$5
		WHERE org_id=$1 AND uid=$2
		RETURNING id, org_id, folder_id, uid, name, model, created, created_by, updated, updated_by
	`, orgID, uid, name, string(model), userID).Scan(&item.ID, &item.OrgID, &item.FolderID, &item.UID, &item.Name, &item.Model, &item.Created, &item.CreatedBy, &item.Updated, &item.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return LibraryPanel{}, ErrLibraryPanelNotFound
	}
	if err != nil {
		return LibraryPanel{}, fmt.Errorf("update library panel: %w", err)
	}
	return item, nil
}

// DeleteLibraryPanel removes the panel unless dashboards still reference it.
func (s *PostgresStore) DeleteLibraryPanel(ctx context.Context, orgID int64, uid string) error {
	panel, err := s.GetLibraryPanel(ctx, orgID, uid)
	if err != nil {
		return err
	}
	connections, err := s.CountConnections(ctx, panel.ID)
	if err != nil {
		return err
	}
	if connections > 0 {
		return ErrLibraryPanelHasConnections
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM library_panel WHERE id=$1`, panel.ID); err != nil {
		return fmt.Errorf("delete library panel: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDashboard(ctx context.Context, orgID int64, uid string) (Dashboard, error) {
	var item Dashboard
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, uid, title, data, created, created_by, updated, updated_by
		FROM dashboard
		WHERE org_id=$1 AND uid=$2
	`, orgID, uid).Scan(&item.ID, &item.OrgID, &item.UID, &item.Title, &raw, &item.Created, &item.CreatedBy, &item.Updated, &item.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return Dashboard{}, ErrDashboardNotFound
	}
	if err != nil {
		return Dashboard{}, fmt.Errorf("get dashboard: %w", err)
	}
	if err := json.Unmarshal(raw, &item.Data); err != nil {
		return Dashboard{}, fmt.Errorf("decode dashboard data: %w", err)
	}
	return item, nil
}

// SaveDashboard inserts or updates the host row by (org_id, uid) and returns
// the row with its assigned internal identifier.
func (s *PostgresStore) SaveDashboard(ctx context.Context, dash Dashboard, userID int64) (Dashboard, error) {
	raw, err := json.Marshal(dash.Data)
	if err != nil {
		return Dashboard{}, fmt.Errorf("encode dashboard data: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO dashboard (org_id, uid, title, data, created_by, updated_by)
		VALUES ($1, $2, $3, $4::jsonb, $5, $5)
		ON CONFLICT (org_id, uid)
		DO UPDATE SET title=EXCLUDED.title, data=EXCLUDED.data, updated=NOW(), updated_by=EXCLUDED.updated_by
		RETURNING id, created, created_by, updated, updated_by
	`, dash.OrgID, dash.UID, dash.Title, string(raw), userID).Scan(&dash.ID, &dash.Created, &dash.CreatedBy, &dash.Updated, &dash.UpdatedBy)
	if err != nil {
		return Dashboard{}, fmt.Errorf("save dashboard: %w", err)
	}
	return dash, nil
}

// DeleteDashboard removes the host row along with its link rows.
func (s *PostgresStore) DeleteDashboard(ctx context.Context, dashboardID int64) error {
	if err := s.DisconnectDashboard(ctx, dashboardID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dashboard WHERE id=$1`, dashboardID); err != nil {
		return fmt.Errorf("delete dashboard: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
