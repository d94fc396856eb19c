package search

// Result is a single library panel search hit returned to the caller.
type Result struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	FolderID int64  `json:"folderId"`
}

// Query describes a library panel search request.
type Query struct {
	Text     string
	OrgID    int64
	FolderID int64 // 0 = all folders
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a library panel name search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push library panels into a search index.
type Indexer interface {
	IndexPanel(p PanelRecord) error
	DeletePanel(uid string) error
}

// PanelRecord is the data we index for a library panel.
type PanelRecord struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	OrgID    int64  `json:"orgId"`
	FolderID int64  `json:"folderId"`
}
