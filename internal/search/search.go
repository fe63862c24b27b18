package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultClient ResultType = "client"
	ResultNote   ResultType = "note"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	ClientID string     `json:"clientId"`
}

// Query describes a search request. CaseManagerID scopes every hit to
// the requester's caseload.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterClientID string
	CaseManagerID  string
	Limit          int
	Offset         int
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
	IndexClient(c ClientRecord) error
	IndexNote(n NoteRecord) error
	DeleteClient(id string) error
	DeleteNote(id string) error
}

// ClientRecord is the data we index for a client. CaseManagerIDs is
// denormalized from the client's active assignments so the index can
// filter without a join.
type ClientRecord struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	ExternalID     string   `json:"externalId"`
	Insurance      string   `json:"insurance"`
	CaseManagerIDs []string `json:"caseManagerIds"`
}

// NoteRecord is the data we index for a client note.
type NoteRecord struct {
	ID             string   `json:"id"`
	Text           string   `json:"text"`
	ClientID       string   `json:"clientId"`
	ClientName     string   `json:"clientName"`
	CaseManagerIDs []string `json:"caseManagerIds"`
}
