package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxPanels = "panelbank_library_panels"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the panel index.
// The client starts unhealthy if the initial connection fails; the health
// loop will pick it up when Meilisearch comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPanels,
		PrimaryKey: "uid",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxPanels, err)
	}

	index := m.client.Index(idxPanels)
	filterable := []interface{}{"orgId", "folderId", "type"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxPanels, err)
	}
	searchable := []string{"name"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxPanels, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the panel index scoped to the caller's org.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	filters := []string{fmt.Sprintf("orgId = %d", q.OrgID)}
	if q.FolderID != 0 {
		filters = append(filters, fmt.Sprintf("folderId = %d", q.FolderID))
	}

	resp, err := m.client.Index(idxPanels).Search(q.Text, &meili.SearchRequest{
		Limit:  limit,
		Offset: int64(q.Offset),
		Filter: filters,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, Result{
			UID:      decodeString(hit, "uid"),
			Name:     decodeString(hit, "name"),
			Type:     decodeString(hit, "type"),
			FolderID: decodeInt(hit, "folderId"),
		})
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

// IndexPanel adds or updates a library panel in the search index.
func (m *Meili) IndexPanel(p PanelRecord) error {
	_, err := m.client.Index(idxPanels).AddDocuments([]PanelRecord{p}, nil)
	return err
}

// IndexPanels bulk-indexes library panels.
func (m *Meili) IndexPanels(panels []PanelRecord) error {
	if len(panels) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPanels).AddDocuments(panels, nil)
	return err
}

// DeletePanel removes a library panel from the search index.
func (m *Meili) DeletePanel(uid string) error {
	_, err := m.client.Index(idxPanels).DeleteDocument(uid, nil)
	return err
}
