package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerName string `json:"ownerName"`
	Snippet   string `json:"snippet"`
}

// Query describes a search request over the public catalog listing.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexFile(record FileRecord) error
	DeleteFile(id string) error
}

// FileRecord is the data we index for a public file.
type FileRecord struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	OwnerName string   `json:"ownerName"`
	Languages []string `json:"languages"`
}
