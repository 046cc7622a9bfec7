package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// volatileKeys never participate in message identity.
var volatileKeys = map[string]struct{}{
	"trace_id":  {},
	"timestamp": {},
	"ts":        {},
}

// CanonicalJSON serializes a payload deterministically: volatile keys removed,
// object keys sorted (encoding/json sorts map keys at every depth), minimal
// separators. Key order of the input never changes the output.
func CanonicalJSON(payload map[string]any) (string, error) {
	clean := make(map[string]any, len(payload))
	for k, v := range payload {
		if _, volatile := volatileKeys[k]; volatile {
			continue
		}
		clean[k] = v
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("op=domain.CanonicalJSON: %w", err)
	}
	return string(b), nil
}

// MessageID derives the canonical 32-hex log id for an event.
//
// identifier precedence: event_id, then user_id:ts, then a 16-hex content
// hash. The id is a pure function of (tenant, identifier, payload_version,
// canonical payload); trace ids and timestamps inside the payload are ignored.
func MessageID(tenantID, eventID, userID, tsISO string, payloadVersion int, payload map[string]any) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	identifier := eventID
	if identifier == "" {
		if userID != "" {
			identifier = userID + ":" + tsISO
		} else {
			sum := sha256.Sum256([]byte(canonical))
			identifier = hex.EncodeToString(sum[:])[:16]
		}
	}
	seed := fmt.Sprintf("%s:%s:%d:%s", tenantID, identifier, payloadVersion, canonical)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:32], nil
}

// NewTraceID returns a fresh 32-hex correlation token. Trace ids are opaque
// and never feed into message identity.
func NewTraceID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
