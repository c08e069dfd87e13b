package knowledge

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// tokenCodec is lazily initialised once; tokenizer.Get loads a fixed BPE
// vocabulary, which is wasted work to repeat per call.
var (
	tokenCodecOnce sync.Once
	tokenCodec     tokenizer.Codec
	tokenCodecErr  error
)

func getCodec() (tokenizer.Codec, error) {
	tokenCodecOnce.Do(func() {
		tokenCodec, tokenCodecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return tokenCodec, tokenCodecErr
}

// CountTokens returns the Cl100kBase token count of text, used to keep the
// LLM invocation layer's prompts (rag_context plus the generate node's
// template) within the provider's context window. Falls back to a
// byte/4 estimate if the tokenizer vocabulary fails to load.
func CountTokens(text string) int {
	codec, err := getCodec()
	if err != nil {
		return len(text) / 4
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// TruncateToTokens trims text to at most maxTokens Cl100kBase tokens,
// preserving the prefix (the most relevant chunk is concatenated first by
// the retriever, so truncation should drop the tail).
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	codec, err := getCodec()
	if err != nil {
		maxBytes := maxTokens * 4
		if len(text) <= maxBytes {
			return text
		}
		return text[:maxBytes]
	}
	ids, _, err := codec.Encode(text)
	if err != nil || len(ids) <= maxTokens {
		return text
	}
	truncated, err := codec.Decode(ids[:maxTokens])
	if err != nil {
		return text
	}
	return truncated
}
