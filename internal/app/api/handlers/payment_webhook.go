package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	nh "github.com/fatflowers/academy/internal/app/service/notification_handler"
	"github.com/fatflowers/academy/pkg/errs"
	"github.com/fatflowers/academy/pkg/logctx"
)

// maxWebhookBody matches the provider's documented payload ceiling.
const maxWebhookBody = 64 << 10

type WebhookReconciler interface {
	HandleNotification(ctx context.Context, payload []byte, header http.Header) (*nh.Result, error)
}

// @Summary      Stripe Webhook
// @Description  Receives signed payment events. Non-2xx responses make the provider retry, so only storage failures return 500.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature header string true "Provider signature"
// @Param        payload body string true "Raw event payload"
// @Success      200  {object}  notification_handler.Result
// @Failure      400  {object}  map[string]string
// @Failure      422  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/webhook/stripe [post]
func ApiStripeWebhook(h WebhookReconciler, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
		if err != nil || len(payload) > maxWebhookBody {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable or oversized payload"})
			return
		}

		res, err := h.HandleNotification(c.Request.Context(), payload, c.Request.Header)
		if err != nil {
			status := webhookStatus(err)
			if status >= http.StatusInternalServerError {
				logctx.FromGin(c, log).Errorw("webhook_stripe_handle_error", "error", err.Error())
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func webhookStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrSignatureInvalid), errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func RegisterPaymentWebhookRoutes(r gin.IRouter, h WebhookReconciler, log *zap.SugaredLogger) {
	r.POST("/stripe", ApiStripeWebhook(h, log))
}
