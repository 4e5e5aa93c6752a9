package handlers

import (
	"net/http"

	"github.com/ollamatic/ollamatic/internal/backend"
	"github.com/ollamatic/ollamatic/internal/protocol"
	"github.com/ollamatic/ollamatic/internal/proxy"
)

// InferenceHandler exposes the proxied inference endpoints in both wire
// shapes. The /agent variants force prompt augmentation on.
type InferenceHandler struct {
	proxy   *proxy.Proxy
	backend *backend.Client
}

func NewInferenceHandler(p *proxy.Proxy, client *backend.Client) *InferenceHandler {
	return &InferenceHandler{proxy: p, backend: client}
}

func (h *InferenceHandler) Generate(w http.ResponseWriter, r *http.Request) {
	h.proxy.Handle(w, r, protocol.VariantNative, protocol.KindGenerate, false)
}

func (h *InferenceHandler) Chat(w http.ResponseWriter, r *http.Request) {
	h.proxy.Handle(w, r, protocol.VariantNative, protocol.KindChat, false)
}

func (h *InferenceHandler) AgentGenerate(w http.ResponseWriter, r *http.Request) {
	h.proxy.Handle(w, r, protocol.VariantNative, protocol.KindGenerate, true)
}

func (h *InferenceHandler) AgentChat(w http.ResponseWriter, r *http.Request) {
	h.proxy.Handle(w, r, protocol.VariantNative, protocol.KindChat, true)
}

func (h *InferenceHandler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	h.proxy.Handle(w, r, protocol.VariantOpenAI, protocol.KindChat, false)
}

func (h *InferenceHandler) AgentChatCompletions(w http.ResponseWriter, r *http.Request) {
	h.proxy.Handle(w, r, protocol.VariantOpenAI, protocol.KindChat, true)
}

// Tags passes the backend's model list through untouched.
func (h *InferenceHandler) Tags(w http.ResponseWriter, r *http.Request) {
	body, err := h.backend.Tags(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
