// Package tokens provides deterministic token counting for cost estimation.
// Counts are derived from a character-based encoding heuristic (~4 bytes per
// token for GPT-family tokenizers) plus the exact chat framing overhead, so
// the same input always yields the same count. Escrow amounts are derived
// from these counts, which is why the framing accounting must be exact even
// though the per-string encoding is approximate.
package tokens

// Message is a single chat-style input message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

const (
	// Every message follows <|start|>{role/name}\n{content}<|end|>\n
	tokensPerMessage = 3
	// If a name is present, the role is omitted
	tokensPerName = 1
	// Every reply is primed with <|start|>assistant<|message|>
	replyPrimingTokens = 3
)

// Counter counts tokens for text and chat messages.
type Counter struct{}

// NewCounter creates a Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// Count returns the token count for a plain text string under the model's
// encoding. Unknown models fall back to the default encoding; Count never
// fails.
func (c *Counter) Count(text string, model string) int {
	return encodingForModel(model).encode(text)
}

// CountMessages returns the token count for a chat message list, including
// per-message framing overhead and the final reply priming.
func (c *Counter) CountMessages(messages []Message, model string) int {
	enc := encodingForModel(model)

	total := 0
	for _, m := range messages {
		total += tokensPerMessage
		total += enc.encode(m.Role)
		total += enc.encode(m.Content)
		if m.Name != "" {
			total += enc.encode(m.Name)
			total += tokensPerName
		}
	}
	total += replyPrimingTokens

	return total
}

// encoding approximates a BPE tokenizer with a fixed bytes-per-token ratio.
type encoding struct {
	bytesPerToken int
}

// encode returns the token count for s. Non-empty strings always count as at
// least one token.
func (e encoding) encode(s string) int {
	if len(s) == 0 {
		return 0
	}
	n := (len(s) + e.bytesPerToken - 1) / e.bytesPerToken
	if n < 1 {
		n = 1
	}
	return n
}

// cl100kBase is the default encoding used by GPT-3.5/GPT-4 family models.
var cl100kBase = encoding{bytesPerToken: 4}

// modelEncodings maps model identifiers to their encoding. All currently
// supported models share the cl100k_base scheme; the indirection preserves
// the lookup-with-fallback contract.
var modelEncodings = map[string]encoding{
	"gpt-4o":        cl100kBase,
	"gpt-4o-mini":   cl100kBase,
	"gpt-4-turbo":   cl100kBase,
	"gpt-4":         cl100kBase,
	"gpt-3.5-turbo": cl100kBase,
	"o1":            cl100kBase,
	"o1-preview":    cl100kBase,
	"o1-mini":       cl100kBase,
}

// encodingForModel returns the encoding for a model, falling back to
// cl100k_base for unknown models.
func encodingForModel(model string) encoding {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	return cl100kBase
}
