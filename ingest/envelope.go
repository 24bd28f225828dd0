// Package ingest orchestrates the write path: a payload envelope goes in,
// deterministic identities come out, and every field lands either in an
// observation or in the raw-fragment pool. Ingestion never fails because a
// value didn't fit the schema; only structural envelope problems and unknown
// capabilities surface as errors.
package ingest

import (
	"time"

	"github.com/stratahq/strata/errors"
	"github.com/stratahq/strata/observation"
)

// Provenance records where a payload's evidence came from.
type Provenance struct {
	// SourceRefs are the raw source ids this payload was extracted from.
	// Treated as a set: ordering never affects identity.
	SourceRefs       []string  `json:"source_refs"`
	ExtractedAt      time.Time `json:"extracted_at"`
	ExtractorVersion string    `json:"extractor_version"`
	AgentID          string    `json:"agent_id,omitempty"`
}

// Envelope is one payload submission. Transient: it is normalized before
// identity computation and never persisted verbatim.
type Envelope struct {
	CapabilityID    string                 `json:"capability_id"`
	Body            map[string]interface{} `json:"body"`
	Provenance      Provenance             `json:"provenance"`
	OwnerScope      string                 `json:"owner_scope,omitempty"` // "" targets global schemas
	ClientRequestID string                 `json:"client_request_id,omitempty"`
}

// Validate enforces the structural envelope contract. Failures here are
// hard errors the caller must fix, not data-quality routing.
func (e *Envelope) Validate() error {
	if e.CapabilityID == "" {
		return errors.NewInvalidRequestError("envelope missing capability_id")
	}
	if e.Body == nil {
		return errors.NewInvalidRequestError("envelope missing body")
	}
	if len(e.Provenance.SourceRefs) == 0 {
		return errors.NewInvalidRequestError("envelope provenance requires at least one source ref")
	}
	for _, ref := range e.Provenance.SourceRefs {
		if ref == "" {
			return errors.NewInvalidRequestError("envelope provenance contains an empty source ref")
		}
	}
	if e.Provenance.ExtractorVersion == "" {
		return errors.NewInvalidRequestError("envelope provenance missing extractor_version")
	}
	return nil
}

// RoutedFragment reports one field that was routed to the raw-fragment pool
// instead of an observation.
type RoutedFragment struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	FieldName  string `json:"field_name"`
	Reason     string `json:"reason"`
}

// Result is the outcome of one ingestion.
type Result struct {
	// PayloadContentID is the deterministic identity of the payload content;
	// identical submissions reproduce it.
	PayloadContentID string `json:"payload_content_id"`
	// PayloadSubmissionID is fresh per call and only distinguishes attempts.
	PayloadSubmissionID string `json:"payload_submission_id"`

	Observations []*observation.Observation `json:"observations,omitempty"`
	Fragments    []RoutedFragment           `json:"fragments,omitempty"`
}
