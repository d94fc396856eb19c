package store

import (
	"encoding/json"
	"time"
)

// LibraryPanel is the authoritative, centrally stored panel definition.
// Model is the panel's full rendering model, stored opaquely.
type LibraryPanel struct {
	ID        int64
	OrgID     int64
	FolderID  int64
	UID       string
	Name      string
	Model     json.RawMessage
	Created   time.Time
	CreatedBy int64
	Updated   time.Time
	UpdatedBy int64
}

// Connection is one row of the dashboard<->library panel link table.
type Connection struct {
	ID             int64
	LibraryPanelID int64
	DashboardID    int64
	Created        time.Time
	CreatedBy      int64
}

// Dashboard is the minimal host row for the read/write pipeline. The full
// dashboard document store lives outside this service.
type Dashboard struct {
	ID        int64
	OrgID     int64
	UID       string
	Title     string
	Data      map[string]any
	Created   time.Time
	CreatedBy int64
	Updated   time.Time
	UpdatedBy int64
}

// Actor identifies who performed a write, for created_by/updated_by columns.
type Actor struct {
	UserID int64
	OrgID  int64
}
