package protocol

import (
	"fmt"
	"io"
	"time"
)

// StreamState tracks the lifecycle of one forwarded stream.
type StreamState int

const (
	StreamNotStarted StreamState = iota
	StreamStreaming
	StreamCompleted
	StreamAborted
)

func (s StreamState) String() string {
	switch s {
	case StreamNotStarted:
		return "not_started"
	case StreamStreaming:
		return "streaming"
	case StreamCompleted:
		return "completed"
	case StreamAborted:
		return "aborted"
	}
	return "unknown"
}

// Flusher is the subset of http.Flusher the writer needs; tests substitute
// a no-op.
type Flusher interface {
	Flush()
}

// StreamWriter re-encodes canonical chunks into the client's wire shape and
// forwards each one immediately. It holds no more than the current chunk.
type StreamWriter struct {
	w       io.Writer
	flusher Flusher
	variant Variant
	kind    Kind
	model   string

	// synthesized stream identity, shared by every chunk of the stream
	streamID string
	created  int64

	state StreamState
	index int
}

// NewStreamWriter prepares a writer for one response stream. The stream id
// and created timestamp are fixed up front so every chunk of the stream
// carries the same synthesized identity.
func NewStreamWriter(w io.Writer, flusher Flusher, variant Variant, kind Kind, model string, now time.Time) *StreamWriter {
	return &StreamWriter{
		w:        w,
		flusher:  flusher,
		variant:  variant,
		kind:     kind,
		model:    model,
		streamID: NewStreamID(now),
		created:  now.Unix(),
		state:    StreamNotStarted,
	}
}

func (sw *StreamWriter) State() StreamState { return sw.state }

// ChunkIndex reports how many chunks have been forwarded.
func (sw *StreamWriter) ChunkIndex() int { return sw.index }

// Write forwards one chunk. A Done chunk also emits whatever terminator the
// target shape requires and moves the stream to Completed.
func (sw *StreamWriter) Write(ch Chunk) error {
	switch sw.state {
	case StreamCompleted, StreamAborted:
		return fmt.Errorf("write on %s stream", sw.state)
	case StreamNotStarted:
		sw.state = StreamStreaming
		if sw.variant == VariantOpenAI {
			// The chat-completions shape opens with a role-only delta.
			role, err := encodeOpenAIRoleChunk(sw.model, sw.streamID, sw.created)
			if err != nil {
				return err
			}
			if err := sw.emit(role); err != nil {
				return err
			}
		}
	}

	if ch.Done {
		return sw.finish(ch)
	}

	var (
		payload []byte
		err     error
	)
	if sw.variant == VariantOpenAI {
		payload, err = encodeOpenAIContentChunk(ch.Content, sw.model, sw.streamID, sw.created)
	} else {
		payload, err = encodeNativeChunk(ch, sw.model, sw.kind)
	}
	if err != nil {
		return err
	}

	if err := sw.emit(payload); err != nil {
		return err
	}
	sw.index++
	return nil
}

func (sw *StreamWriter) finish(ch Chunk) error {
	var (
		payload []byte
		err     error
	)
	if sw.variant == VariantOpenAI {
		// Some backends put trailing content on the done chunk; the
		// finish_reason frame must carry an empty delta, so that content
		// goes out as its own frame first.
		if ch.Content != "" {
			tail, err := encodeOpenAIContentChunk(ch.Content, sw.model, sw.streamID, sw.created)
			if err != nil {
				return err
			}
			if err := sw.emit(tail); err != nil {
				return err
			}
			sw.index++
		}
		payload, err = encodeOpenAIFinalChunk(ch, sw.model, sw.streamID, sw.created)
	} else {
		payload, err = encodeNativeChunk(ch, sw.model, sw.kind)
	}
	if err != nil {
		return err
	}
	if err := sw.emit(payload); err != nil {
		return err
	}
	if sw.variant == VariantOpenAI {
		if _, err := io.WriteString(sw.w, "data: [DONE]\n\n"); err != nil {
			return err
		}
		sw.flush()
	}
	sw.index++
	sw.state = StreamCompleted
	return nil
}

// Abort moves the stream to Aborted and emits the shape-appropriate error
// convention: the native shape gets a final error object, the
// chat-completions shape an error frame followed by the sentinel. When the
// client is already gone the write fails silently; Aborted is reached either
// way.
func (sw *StreamWriter) Abort(message string) {
	if sw.state == StreamCompleted || sw.state == StreamAborted {
		return
	}
	sw.state = StreamAborted

	payload := EncodeError(message, sw.variant)
	_ = sw.emit(payload)
	if sw.variant == VariantOpenAI {
		_, _ = io.WriteString(sw.w, "data: [DONE]\n\n")
		sw.flush()
	}
}

func (sw *StreamWriter) emit(payload []byte) error {
	var err error
	if sw.variant == VariantOpenAI {
		_, err = fmt.Fprintf(sw.w, "data: %s\n\n", payload)
	} else {
		_, err = fmt.Fprintf(sw.w, "%s\n", payload)
	}
	if err != nil {
		return err
	}
	sw.flush()
	return nil
}

func (sw *StreamWriter) flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}
