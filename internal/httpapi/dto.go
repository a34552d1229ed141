// Package httpapi exposes the teleological array store, retrieval pipeline,
// and purpose discoverer over a gin REST API, grounded on the teacher's
// internal/plugin/route/* handler style: thin JSON DTOs that convert to and
// from internal/model types, with validation errors surfaced as 400s and
// typed core errors mapped to their natural HTTP status.
package httpapi

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chirino/memory-service/internal/model"
)

type outputDTO struct {
	Dense     []float32       `json:"dense,omitempty"`
	CausalTag int8            `json:"causal_tag,omitempty"`
	Sparse    []sparseTermDTO `json:"sparse,omitempty"`
	Tokens    [][]float32     `json:"tokens,omitempty"`
	HDC       []uint64        `json:"hdc,omitempty"`
	HDCBits   int             `json:"hdc_bits,omitempty"`
}

type sparseTermDTO struct {
	Index  uint32  `json:"index"`
	Weight float32 `json:"weight"`
}

func (o outputDTO) toModel(space model.Space) model.Output {
	out := model.Output{Space: space, Dense: o.Dense, CausalTag: model.CausalDirection(o.CausalTag), Tokens: o.Tokens, HDC: o.HDC, HDCBits: o.HDCBits}
	if len(o.Sparse) > 0 {
		out.Sparse = make([]model.SparseTerm, len(o.Sparse))
		for i, t := range o.Sparse {
			out.Sparse[i] = model.SparseTerm{Index: t.Index, Weight: t.Weight}
		}
	}
	return out
}

func outputFromModel(o model.Output) outputDTO {
	dto := outputDTO{Dense: o.Dense, CausalTag: int8(o.CausalTag), Tokens: o.Tokens, HDC: o.HDC, HDCBits: o.HDCBits}
	if len(o.Sparse) > 0 {
		dto.Sparse = make([]sparseTermDTO, len(o.Sparse))
		for i, t := range o.Sparse {
			dto.Sparse[i] = sparseTermDTO{Index: t.Index, Weight: t.Weight}
		}
	}
	return dto
}

type metadataDTO struct {
	SessionID     string   `json:"session_id,omitempty"`
	Namespace     string   `json:"namespace,omitempty"`
	Tier          string   `json:"tier,omitempty"`
	SalienceScore float32  `json:"salience_score,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

func tierFromString(s string) model.ServingTier {
	switch s {
	case "warm":
		return model.TierWarm
	case "cold":
		return model.TierCold
	default:
		return model.TierHot
	}
}

func tierToString(t model.ServingTier) string {
	switch t {
	case model.TierWarm:
		return "warm"
	case model.TierCold:
		return "cold"
	default:
		return "hot"
	}
}

type arrayDTO struct {
	ID           string               `json:"id,omitempty"`
	Embeddings   map[string]outputDTO `json:"embeddings"`
	SourceDigest string               `json:"source_digest,omitempty"` // base64
	CreatedAt    time.Time            `json:"created_at,omitempty"`
	Metadata     metadataDTO          `json:"metadata"`
}

func (a arrayDTO) toModel() (*model.TeleologicalArray, error) {
	id := uuid.New()
	if a.ID != "" {
		parsed, err := uuid.Parse(a.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid id: %w", err)
		}
		id = parsed
	}

	var digest []byte
	if a.SourceDigest != "" {
		decoded, err := base64.StdEncoding.DecodeString(a.SourceDigest)
		if err != nil {
			return nil, fmt.Errorf("invalid source_digest: %w", err)
		}
		digest = decoded
	}

	array := &model.TeleologicalArray{
		ID:           id,
		SourceDigest: digest,
		CreatedAt:    time.Now(),
		Metadata: model.MetadataRecord{
			SessionID:     a.Metadata.SessionID,
			Namespace:     a.Metadata.Namespace,
			Tier:          tierFromString(a.Metadata.Tier),
			SalienceScore: a.Metadata.SalienceScore,
			Tags:          a.Metadata.Tags,
		},
	}
	for i := 0; i < model.NumSpaces; i++ {
		array.Embeddings[i].Space = model.Space(i)
	}
	for name, dto := range a.Embeddings {
		space, ok := model.ParseSpace(name)
		if !ok {
			return nil, fmt.Errorf("unknown embedding space %q", name)
		}
		array.Embeddings[space] = dto.toModel(space)
	}
	return array, nil
}

func arrayFromModel(a *model.TeleologicalArray, includeEmbeddings bool) arrayDTO {
	dto := arrayDTO{
		ID:           a.ID.String(),
		SourceDigest: base64.StdEncoding.EncodeToString(a.SourceDigest),
		CreatedAt:    a.CreatedAt,
		Metadata: metadataDTO{
			SessionID:     a.Metadata.SessionID,
			Namespace:     a.Metadata.Namespace,
			Tier:          tierToString(a.Metadata.Tier),
			SalienceScore: a.Metadata.SalienceScore,
			Tags:          a.Metadata.Tags,
		},
	}
	if includeEmbeddings {
		dto.Embeddings = make(map[string]outputDTO, model.NumSpaces)
		for i := 0; i < model.NumSpaces; i++ {
			space := model.Space(i)
			dto.Embeddings[space.String()] = outputFromModel(a.Embeddings[space])
		}
	}
	return dto
}

type purposeDTO struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Importance  float32  `json:"importance"`
	Coherence   float32  `json:"coherence"`
	MemberIDs   []string `json:"member_ids"`
	ParentID    string   `json:"parent_id,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

func purposeFromModel(p model.DiscoveredPurpose) purposeDTO {
	members := make([]string, len(p.MemberIDs))
	for i, id := range p.MemberIDs {
		members[i] = id.String()
	}
	dto := purposeDTO{
		ID:           p.ID.String(),
		Description:  p.Description,
		Importance:   p.Importance,
		Coherence:    p.Coherence,
		MemberIDs:    members,
		DiscoveredAt: p.DiscoveredAt,
	}
	if p.ParentID != nil {
		dto.ParentID = p.ParentID.String()
	}
	return dto
}
