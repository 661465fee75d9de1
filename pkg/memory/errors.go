package memory

import "errors"

var (
	// ErrConversationTooShort guards the extractor: transcripts under four
	// messages carry too little signal and never reach the LLM.
	ErrConversationTooShort = errors.New("conversation too short to extract from")

	// ErrNoJSONObject means the LLM reply contained no balanced JSON object.
	ErrNoJSONObject = errors.New("no JSON object found in model output")

	ErrUnknownRitualType = errors.New("unknown ritual type")

	ErrNotFound = errors.New("record not found")
)
