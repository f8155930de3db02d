package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/user"
)

// svix形式の署名ヘッダー
var webhookSignatureHeaders = []string{"svix-id", "svix-timestamp", "svix-signature"}

// WebhookVerifier はWebhookの署名を検証する。*svix.Webhookが満たす。
type WebhookVerifier interface {
	Verify(payload []byte, headers http.Header) error
}

// IdentityEventApplier は外部IdPのユーザーイベントを反映する。
type IdentityEventApplier interface {
	ApplyIdentityEvent(ctx context.Context, event *user.IdentityEvent) error
}

// WebhookHandler は外部IdPのユーザーライフサイクルWebhookを受け付ける。
type WebhookHandler struct {
	verifier WebhookVerifier
	events   IdentityEventApplier
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(verifier WebhookVerifier, events IdentityEventApplier) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		events:   events,
	}
}

// Identity は署名を検証したうえでユーザーイベントを反映する。
// POST /webhooks/identity
//
// 反映に失敗した場合は500を返し、送信元の再送に任せる。
func (h *WebhookHandler) Identity(w http.ResponseWriter, r *http.Request) {
	for _, name := range webhookSignatureHeaders {
		if r.Header.Get(name) == "" {
			slog.Warn("webhook rejected: missing signature header", slog.String("header", name))
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
			return
		}
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	if err := h.verifier.Verify(payload, r.Header); err != nil {
		slog.Warn("webhook rejected: signature verification failed",
			slog.String("svix_id", r.Header.Get("svix-id")),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	event, err := user.ParseIdentityEvent(payload)
	if err != nil {
		slog.Warn("webhook rejected: malformed payload",
			slog.String("svix_id", r.Header.Get("svix-id")),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	if err := h.events.ApplyIdentityEvent(r.Context(), event); err != nil {
		handleServiceError(w, r, err)
		return
	}

	slog.Info("webhook processed",
		slog.String("svix_id", r.Header.Get("svix-id")),
		slog.String("event_type", event.Type),
	)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Webhook received"})
}
