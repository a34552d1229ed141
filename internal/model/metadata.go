package model

import "time"

// MetadataRecord is the small, separately-stored, mutable record attached to
// every teleological array. Unlike the array's thirteen embeddings (write-once),
// every field here may be updated in place by the access tracker and the tier
// migrator without touching the array blob.
type MetadataRecord struct {
	SessionID     string
	Namespace     string
	Tier          ServingTier
	AccessCount   int64
	LastAccessed  time.Time
	SalienceScore float32
	Tags          []string
}
