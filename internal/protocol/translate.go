package protocol

import (
	"fmt"
	"time"
)

// TranslateRequest converts an inbound request body of the given wire shape
// into the canonical form. It fails with ErrProtocol when required fields
// are absent.
func TranslateRequest(raw []byte, variant Variant, kind Kind) (*CanonicalRequest, error) {
	switch variant {
	case VariantNative:
		return translateNativeRequest(raw, kind)
	case VariantOpenAI:
		return translateOpenAIRequest(raw)
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", ErrProtocol, variant)
	}
}

// EncodeResponse renders a completed non-streaming result in the client's
// wire shape. Backend-reported token and duration values pass through
// unmodified; shape-mandated fields the canonical form lacks (stream id,
// created timestamp, finish reason) are synthesized deterministically from
// the stream identity.
func EncodeResponse(ch Chunk, variant Variant, kind Kind, model, streamID string, created int64) ([]byte, error) {
	switch variant {
	case VariantNative:
		return encodeNativeChunk(ch, model, kind)
	case VariantOpenAI:
		return encodeOpenAIResponse(ch, model, streamID, created)
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", ErrProtocol, variant)
	}
}

// EncodeError renders an error message in the client's error envelope.
func EncodeError(message string, variant Variant) []byte {
	if variant == VariantOpenAI {
		return encodeOpenAIError(message)
	}
	return encodeNativeError(message)
}

// ContentType returns the media type the variant uses for streaming.
func ContentType(variant Variant, stream bool) string {
	if !stream {
		return "application/json"
	}
	if variant == VariantOpenAI {
		return "text/event-stream"
	}
	return "application/x-ndjson"
}

// NewStreamID synthesizes the stream identifier the chat-completions shape
// requires. The id is derived from wall-clock milliseconds like the upstream
// API's chatcmpl ids.
func NewStreamID(now time.Time) string {
	return fmt.Sprintf("chatcmpl-%d", now.UnixMilli())
}
