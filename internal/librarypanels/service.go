// Package librarypanels keeps centrally stored library panels in sync with the
// denormalized copies embedded in dashboard JSON. Dashboards are expanded on
// read (references replaced with authoritative panel content), collapsed on
// write (content stripped back to minimal references), and linked on first
// save (reference graph recorded in the link table).
package librarypanels

import (
	"context"
	"encoding/json"
	"fmt"

	"panelbank/api/internal/store"
)

// panelStore is the slice of the reference store this service needs.
type panelStore interface {
	GetLibraryPanelsForDashboard(ctx context.Context, dashboardID int64) (map[string]store.LibraryPanel, error)
	ConnectLibraryPanel(ctx context.Context, orgID int64, panelUID string, dashboardID, userID int64) error
}

type Service struct {
	enabled bool
	store   panelStore
}

// New creates the service. The feature gate is passed explicitly so callers
// and tests control it without process-wide setup.
func New(enabled bool, panelStore panelStore) *Service {
	return &Service{enabled: enabled, store: panelStore}
}

func (s *Service) Enabled() bool {
	return s.enabled
}

// Expand replaces every library panel reference in the dashboard with the
// authoritative panel content, reapplying the dashboard-local id and gridPos
// and refreshing the embedded name. Linked panels are fetched in a single
// batched read. Any malformed or dangling reference aborts the whole call;
// the dashboard is left partially mutated and must not be served.
func (s *Service) Expand(ctx context.Context, dash *store.Dashboard) error {
	if !s.enabled {
		return nil
	}

	panels := panelArray(dash)
	if len(panels) == 0 {
		return nil
	}

	linked, err := s.store.GetLibraryPanelsForDashboard(ctx, dash.ID)
	if err != nil {
		return fmt.Errorf("load linked panels for dashboard %d: %w", dash.ID, err)
	}

	for i, panel := range panels {
		entry, reference, ok := libraryReference(panel)
		if !ok {
			continue
		}

		uid := stringField(reference, "uid")
		if uid == "" {
			return fmt.Errorf("%w: panel at index %d has no uid", ErrMalformedReference, i)
		}

		record, ok := linked[uid]
		if !ok {
			return fmt.Errorf("%w: %s", ErrDanglingReference, uid)
		}

		// Fresh copy per entry so mutating the expanded panel can never leak
		// back into the stored definition.
		var content map[string]any
		if err := json.Unmarshal(record.Model, &content); err != nil {
			return fmt.Errorf("decode model of library panel %s: %w", uid, err)
		}
		if content == nil {
			content = map[string]any{}
		}

		content["gridPos"] = gridPosField(entry)
		content["id"] = idField(entry, 0)
		content["libraryPanel"] = map[string]any{
			"uid":  record.UID,
			"name": record.Name,
		}
		panels[i] = content
	}

	return nil
}

// Collapse reduces every library-linked panel entry to its minimal persisted
// form {id, gridPos, libraryPanel{uid, name}}, discarding expanded content so
// it can never desynchronize from future edits to the library panel. Entries
// without a reference pass through unchanged.
func (s *Service) Collapse(dash *store.Dashboard) error {
	if !s.enabled {
		return nil
	}

	panels := panelArray(dash)
	for i, panel := range panels {
		entry, reference, ok := libraryReference(panel)
		if !ok {
			continue
		}

		uid := stringField(reference, "uid")
		if uid == "" {
			return fmt.Errorf("%w: panel at index %d has no uid", ErrMalformedReference, i)
		}
		name := stringField(reference, "name")
		if name == "" {
			return fmt.Errorf("%w: panel at index %d has no name", ErrMalformedReference, i)
		}

		panels[i] = map[string]any{
			"id":      idField(entry, int64(i)),
			"gridPos": gridPosField(entry),
			"libraryPanel": map[string]any{
				"uid":  uid,
				"name": name,
			},
		}
	}

	return nil
}

// Link upserts one link row per referenced library panel. The dashboard must
// already carry its store-assigned identifiers; linking happens strictly
// after the first save. Re-linking an already-linked pair is a no-op.
func (s *Service) Link(ctx context.Context, actor store.Actor, dash *store.Dashboard) error {
	if !s.enabled {
		return nil
	}

	if dash.ID == 0 || dash.UID == "" {
		return ErrDashboardMissingIdentity
	}

	for i, panel := range panelArray(dash) {
		_, reference, ok := libraryReference(panel)
		if !ok {
			continue
		}

		uid := stringField(reference, "uid")
		if uid == "" {
			return fmt.Errorf("%w: panel at index %d has no uid", ErrMalformedReference, i)
		}

		if err := s.store.ConnectLibraryPanel(ctx, actor.OrgID, uid, dash.ID, actor.UserID); err != nil {
			return fmt.Errorf("connect library panel %s: %w", uid, err)
		}
	}

	return nil
}

func panelArray(dash *store.Dashboard) []any {
	if dash == nil || dash.Data == nil {
		return nil
	}
	entries, _ := dash.Data["panels"].([]any)
	return entries
}

// libraryReference returns the entry and its libraryPanel object when the
// panel is a library-linked entry.
func libraryReference(panel any) (map[string]any, map[string]any, bool) {
	entry, ok := panel.(map[string]any)
	if !ok {
		return nil, nil, false
	}
	reference, ok := entry["libraryPanel"].(map[string]any)
	if !ok {
		return nil, nil, false
	}
	return entry, reference, true
}

func stringField(m map[string]any, key string) string {
	value, _ := m[key].(string)
	return value
}

func gridPosField(entry map[string]any) map[string]any {
	if gridPos, ok := entry["gridPos"].(map[string]any); ok {
		return gridPos
	}
	return map[string]any{}
}

// idField keeps whatever numeric value the entry carries. Decoded JSON holds
// float64, in-memory documents may hold int or int64.
func idField(entry map[string]any, fallback int64) any {
	switch value := entry["id"].(type) {
	case float64, int, int64, json.Number:
		return value
	default:
		return fallback
	}
}
