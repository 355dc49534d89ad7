package call

import "errors"

// ErrInvalidUtterance is returned by Ingest for utterances with empty text.
var ErrInvalidUtterance = errors.New("invalid utterance: empty text")

// Speaker identifies which side of the call produced an utterance.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Valid reports whether s is one of the known speakers.
func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerAssistant
}

// Utterance is one transcribed speaker turn. Immutable once appended;
// ordering within a call is arrival order at ingest, not SentTS.
type Utterance struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	SentTS  float64 `json:"sent_ts"` // caller clock, epoch seconds
}

// Sentiment values produced by the analyzer.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// Analysis is the structured inference result for a call at a point in
// time. Produced only by the inference adapter.
type Analysis struct {
	Sentiment      string   `json:"sentiment"`
	Confidence     float64  `json:"confidence"`
	KeyPoints      []string `json:"key_points"`
	Recommendation string   `json:"recommendation_to_salesperson"`
}
