package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to
// Postgres when it is absent or unhealthy.
type Service struct {
	meili *Meili
	pg    *PgSearch
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg *PgSearch) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		log.Printf("search: postgres error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPanel indexes a library panel (fire-and-forget to Meilisearch).
func (s *Service) IndexPanel(p PanelRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPanel(p); err != nil {
			log.Printf("search: index panel %s: %v", p.UID, err)
		}
	}()
}

// DeletePanel removes a library panel from the search index (fire-and-forget).
func (s *Service) DeletePanel(uid string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeletePanel(uid); err != nil {
			log.Printf("search: delete panel %s: %v", uid, err)
		}
	}()
}

// ReindexAll reads every panel from Postgres and pushes it to Meilisearch.
// Called during bootstrap when Meilisearch is healthy.
func (s *Service) ReindexAll() {
	if s.meili == nil || !s.meili.Healthy() || s.pg == nil {
		return
	}
	records, err := s.pg.LoadAllRecords()
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexPanels(records); err != nil {
		log.Printf("search: reindex panels: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
