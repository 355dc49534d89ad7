package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/call"
	"github.com/vibhav7032/Nexus-SalesCallAssistant/internal/groq"
)

// maxConversationChars bounds the prompt: older turns are dropped first.
const maxConversationChars = 3000

// Completer is the LLM call the analyzer is built on.
type Completer interface {
	Complete(ctx context.Context, system string, messages []groq.Message, temperature float64, maxTokens int) (string, error)
}

// Analyzer turns a transcript window into a structured Analysis. It is
// the only producer of Analysis values.
type Analyzer struct {
	llm    Completer
	logger *slog.Logger
}

func New(llm Completer, logger *slog.Logger) *Analyzer {
	return &Analyzer{llm: llm, logger: logger}
}

type llmResponse struct {
	Sentiment      string   `json:"sentiment"`
	Confidence     float64  `json:"confidence"`
	KeyPoints      []string `json:"key_points"`
	Recommendation string   `json:"recommendation_to_salesperson"`
}

// Analyze runs one inference pass over the window. Transient failures
// (transport, timeout, rate limit, 5xx) wrap call.ErrInferenceUnavailable;
// anything the model or API permanently rejects, including responses we
// cannot parse into the expected shape, wraps call.ErrInferenceRejected.
func (a *Analyzer) Analyze(ctx context.Context, window []call.Utterance) (*call.Analysis, error) {
	conversation := formatConversation(window)
	prompt := fmt.Sprintf(userPromptFmt, conversation)

	raw, err := a.llm.Complete(ctx, systemPrompt, []groq.Message{{Role: "user", Content: prompt}}, 0.3, 500)
	if err != nil {
		return nil, classifyLLMError(err)
	}

	parsed, err := parseAnalysis(raw)
	if err != nil {
		a.logger.Error("failed to parse analysis response", "error", err, "raw", raw)
		return nil, fmt.Errorf("%w: %v", call.ErrInferenceRejected, err)
	}
	return parsed, nil
}

func classifyLLMError(err error) error {
	var apiErr *groq.APIError
	if errors.As(err, &apiErr) && !apiErr.Transient() {
		return fmt.Errorf("%w: %v", call.ErrInferenceRejected, err)
	}
	return fmt.Errorf("%w: %v", call.ErrInferenceUnavailable, err)
}

// formatConversation renders the window as Customer:/Agent: lines,
// keeping the most recent turns within the character budget.
func formatConversation(window []call.Utterance) string {
	lines := make([]string, 0, len(window))
	total := 0
	for i := len(window) - 1; i >= 0; i-- {
		u := window[i]
		role := "Customer"
		if u.Speaker == call.SpeakerAssistant {
			role = "Agent"
		}
		line := role + ": " + u.Text
		if total+len(line)+1 > maxConversationChars && len(lines) > 0 {
			break
		}
		lines = append(lines, line)
		total += len(line) + 1
	}
	// lines were collected newest-first; restore transcript order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}

func parseAnalysis(raw string) (*call.Analysis, error) {
	raw = stripCodeFence(raw)

	var resp llmResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("parse analysis json: %w", err)
	}

	sentiment := strings.ToLower(strings.TrimSpace(resp.Sentiment))
	switch sentiment {
	case call.SentimentPositive, call.SentimentNeutral, call.SentimentNegative:
	default:
		return nil, fmt.Errorf("unknown sentiment %q", resp.Sentiment)
	}

	confidence := resp.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &call.Analysis{
		Sentiment:      sentiment,
		Confidence:     confidence,
		KeyPoints:      resp.KeyPoints,
		Recommendation: resp.Recommendation,
	}, nil
}

// stripCodeFence removes a markdown code fence the model sometimes wraps
// around its JSON despite instructions.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.Trim(raw, "`")
	if len(raw) >= 4 && strings.EqualFold(raw[:4], "json") {
		raw = raw[4:]
	}
	return strings.TrimSpace(raw)
}
