package domain

import (
	"encoding/json"
	"strings"
)

// Keyword bags per kind. Matching is case-insensitive substring containment
// over the serialized payload.
var classifierKeywords = map[Kind][]string{
	KindEmergency: {"urgent", "911", "crisis", "panic", "immediately"},
	KindPolicy:    {"policy", "compliance", "consent", "hipaa", "gdpr"},
	KindAssist:    {"help", "assist", "question", "explain", "clarify"},
}

// classifierOrder breaks score ties: emergency beats policy beats assist.
var classifierOrder = []Kind{KindEmergency, KindPolicy, KindAssist}

// Classify scores a payload against the keyword bags and returns the winning
// kind with a confidence in [0,1]. Deterministic, idempotent, no I/O. A
// payload matching nothing is (unknown, 0.5).
func Classify(payload map[string]any) (Kind, float64) {
	b, err := json.Marshal(payload)
	if err != nil {
		return KindUnknown, 0.5
	}
	text := strings.ToLower(string(b))

	best := KindUnknown
	bestScore := 0.0
	for _, kind := range classifierOrder {
		keywords := classifierKeywords[kind]
		matches := 0
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				matches++
			}
		}
		raw := float64(3*matches) / float64(3*len(keywords))
		if raw <= 0 {
			continue
		}
		score := raw + 0.5
		if score > 0.99 {
			score = 0.99
		}
		if score > bestScore {
			best = kind
			bestScore = score
		}
	}
	if bestScore == 0 {
		return KindUnknown, 0.5
	}
	return best, bestScore
}
