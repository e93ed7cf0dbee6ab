package domain

// Answer is the result of a repository question.
type Answer struct {
	Text     string         `json:"answer"`
	Sources  []SearchResult `json:"sources"`
	Fallback bool           `json:"fallback"`
}

// IndexReport summarizes an ingestion run. Failed maps a commit hash to its error.
type IndexReport struct {
	Requested int               `json:"requested"`
	Indexed   []string          `json:"indexed"`
	Skipped   []string          `json:"skipped"`
	Failed    map[string]string `json:"failed,omitempty"`
}
