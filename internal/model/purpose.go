package model

import (
	"time"

	"github.com/google/uuid"
)

// DiscoveredPurpose is the sole representation of a "goal" in the system. It
// is produced only by clustering stored arrays (internal/purpose); there is
// no API to construct one from an externally supplied vector.
type DiscoveredPurpose struct {
	ID          uuid.UUID
	Centroid    TeleologicalArray // always a full, thirteen-slot array
	Description string            // auto-generated, no external LLM required
	Importance  float32
	Coherence   float32
	MemberIDs   []uuid.UUID
	ParentID    *uuid.UUID // hierarchy: by ID, never by pointer
	DiscoveredAt time.Time
}
