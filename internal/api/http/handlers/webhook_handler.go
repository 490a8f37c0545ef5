package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/callbridge/internal/api/dto"
	"github.com/spec-kit/callbridge/internal/persistence"
	"github.com/spec-kit/callbridge/internal/service"
	"github.com/spec-kit/callbridge/internal/worker"
	apperrors "github.com/spec-kit/callbridge/pkg/util"
)

// webhookAck is the plain-text body the phone system expects.
const webhookAck = "Accepted"

// WebhookHandler receives phone-system call events. In async mode (the
// default) it validates, dedups and enqueues, acknowledging before the ticket
// backend is touched so webhook deliveries never time out. Sync mode runs the
// engine inline, for tests and single-shot setups.
type WebhookHandler struct {
	service *service.CallService
	worker  *worker.CallWorker
	deduper *persistence.Deduper
	logger  *zap.Logger
	sync    bool
}

// NewWebhookHandler constructs the handler. A nil worker forces sync mode.
func NewWebhookHandler(callService *service.CallService, callWorker *worker.CallWorker, deduper *persistence.Deduper, logger *zap.Logger, sync bool) *WebhookHandler {
	return &WebhookHandler{
		service: callService,
		worker:  callWorker,
		deduper: deduper,
		logger:  logger,
		sync:    sync || callWorker == nil,
	}
}

// HandleCallEvent POST /webhooks/call.
func (h *WebhookHandler) HandleCallEvent(c *fiber.Ctx) error {
	var req dto.CallWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.CallID == "" {
		return apperrors.NewValidationError("callid required", nil)
	}

	call := req.ToDomain()
	if !call.Kind.Known() {
		h.logger.Error("unknown call event", zap.String("event", req.Event))
		return c.Status(fiber.StatusBadRequest).SendString("Unknown call event")
	}

	if h.deduper.Seen(c.UserContext(), string(call.Kind)+"|"+call.CallID) {
		h.logger.Info("duplicate webhook delivery dropped",
			zap.String("event", string(call.Kind)),
			zap.String("call_id", call.CallID))
		return c.SendString(webhookAck)
	}

	if h.sync {
		if _, err := h.service.Process(c.UserContext(), call); err != nil {
			return err
		}
		return c.SendString(webhookAck)
	}

	if !h.worker.Enqueue(call) {
		// Queue full: process inline rather than dropping the event. Losing
		// a hangup would leave the tracking set corrupted for good.
		h.logger.Warn("call queue full, processing inline", zap.String("call_id", call.CallID))
		if _, err := h.service.Process(c.UserContext(), call); err != nil {
			return err
		}
	}
	return c.SendString(webhookAck)
}
