package memory

import (
	"math"
	"strings"
)

// ImportanceScorer ranks messages for retention during compression.
// Recent messages, authoritative roles, signal keywords, and tool activity
// all raise the score.
type ImportanceScorer struct {
	decayFactor    float64
	keywordWeights map[string]float64
}

// NewImportanceScorer returns a scorer with the standard decay and lexicon.
func NewImportanceScorer() *ImportanceScorer {
	return &ImportanceScorer{
		decayFactor: 0.95,
		keywordWeights: map[string]float64{
			"error":      0.3,
			"important":  0.2,
			"critical":   0.3,
			"remember":   0.2,
			"key":        0.15,
			"decision":   0.25,
			"conclusion": 0.2,
			"result":     0.15,
		},
	}
}

var roleWeights = map[string]float64{
	RoleSystem:    1.0,
	RoleUser:      0.8,
	RoleAssistant: 0.6,
	RoleTool:      0.5,
}

// Score combines the message's stored base score with position decay, role
// weight, keyword hits (capped), and a tool-call bonus. Result is in [0, 1].
func (s *ImportanceScorer) Score(msg *Message, position, total int) float64 {
	positionFactor := math.Pow(s.decayFactor, float64(total-position-1))

	roleFactor, ok := roleWeights[msg.Role]
	if !ok {
		roleFactor = 0.5
	}

	keywordScore := 0.0
	lower := strings.ToLower(msg.Content)
	for kw, weight := range s.keywordWeights {
		if strings.Contains(lower, kw) {
			keywordScore += weight
		}
	}
	if keywordScore > 0.3 {
		keywordScore = 0.3
	}

	toolBonus := 0.0
	if len(msg.ToolCalls) > 0 {
		toolBonus = 0.2
	}

	score := msg.ImportanceScore*0.3 +
		positionFactor*0.3 +
		roleFactor*0.2 +
		keywordScore*0.15 +
		toolBonus

	if score > 1.0 {
		return 1.0
	}
	return score
}
