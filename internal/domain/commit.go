package domain

import "time"

// CommitRecord is the persisted ledger entry for a commit.
// Processed becomes true only after every chunk of the commit is stored.
type CommitRecord struct {
	Hash        string     `json:"hash"                   db:"hash"`
	Message     string     `json:"message"                db:"message"`
	Author      string     `json:"author"                 db:"author"`
	CommitTime  int64      `json:"commit_time"            db:"commit_time"` // unix seconds
	Processed   bool       `json:"processed"              db:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	Diff        *string    `json:"-"                      db:"diff"`
}

// CommitInfo is a lightweight representation of a git commit for log output.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Files     int       `json:"files_changed"`
}

// Record converts mirror metadata into a ledger entry carrying diff.
func (c CommitInfo) Record(diff *string) CommitRecord {
	return CommitRecord{
		Hash:       c.Hash,
		Message:    c.Message,
		Author:     c.Author,
		CommitTime: c.Timestamp.Unix(),
		Diff:       diff,
	}
}

// CommitListing is a commit annotated with its indexing state.
type CommitListing struct {
	CommitInfo
	Processed bool `json:"processed"`
}

// ShortHash returns the conventional seven character prefix of a hash.
func ShortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
