package publisher

import "time"

// Status is the outcome of a successful publish.
type Status string

const (
	// StatusPublished means the primary copy was read back through its public path.
	StatusPublished Status = "published"
	// StatusDegraded means reads are served from the verified mirror.
	StatusDegraded Status = "degraded"
)

// Pointer is the record stored under the latest alias.
type Pointer struct {
	CID         string `json:"cid"`
	ObjectKey   string `json:"objectKey"`
	PayloadHash string `json:"payloadHash"`
	Timestamp   int64  `json:"timestamp"` // unix millis
}

// PublishedObject describes one published snapshot.
type PublishedObject struct {
	ContentID   string    `json:"contentId,omitempty"`
	ObjectKey   string    `json:"objectKey"`
	PayloadHash string    `json:"payloadHash"` // sha256 hex
	Commitment  string    `json:"commitment"`  // keccak256, 0x-prefixed hex
	Status      Status    `json:"status"`
	ReadURL     string    `json:"readUrl"`
	Timestamp   time.Time `json:"timestamp"`
	RetireErr   error     `json:"-"`
}
