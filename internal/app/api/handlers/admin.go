package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/fatflowers/academy/internal/app/api/middleware"
	"github.com/fatflowers/academy/internal/app/service/ledger"
	models "github.com/fatflowers/academy/internal/models"
	"github.com/fatflowers/academy/pkg/response"
	"github.com/fatflowers/academy/pkg/types"
)

type PurchaseScanner interface {
	Scan(ctx context.Context, req *ledger.ScanRequest) (*ledger.ScanResponse, error)
}

type ListPurchaseRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type PurchaseItem struct {
	ID              string               `json:"id"`
	UserID          string               `json:"user_id"`
	CourseID        string               `json:"course_id"`
	EducatorID      string               `json:"educator_id"`
	AmountMinor     int64                `json:"amount_minor"`
	Currency        string               `json:"currency"`
	Status          types.PurchaseStatus `json:"status"`
	SessionID       *string              `json:"session_id"`
	PaymentIntentID *string              `json:"payment_intent_id"`
	ReceiptURL      string               `json:"receipt_url,omitempty"`
	PaymentMethod   string               `json:"payment_method,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

type ListPurchasesResponse struct {
	Items []*PurchaseItem `json:"items"`
	Total int64           `json:"total"`
}

type CancelPurchaseRequest struct {
	Reason string `json:"reason"`
}

func toPurchaseItem(m *models.Purchase) *PurchaseItem {
	meta := m.GetMetadata()
	return &PurchaseItem{
		ID:              m.ID,
		UserID:          m.UserID,
		CourseID:        m.CourseID,
		EducatorID:      m.EducatorID,
		AmountMinor:     m.AmountMinor,
		Currency:        m.Currency,
		Status:          m.Status,
		SessionID:       m.SessionID,
		PaymentIntentID: m.PaymentIntentID,
		ReceiptURL:      meta.ReceiptURL,
		PaymentMethod:   meta.PaymentMethod,
		CompletedAt:     m.CompletedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// @Summary      List Purchases (Admin)
// @Description  Lists purchase records with filters, pagination and sorting.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body ListPurchaseRequest true "List purchase request with filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListPurchases
// @Router       /api/v1/admin/list_purchases [post]
func ApiListPurchases(store PurchaseScanner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListPurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		scanReq := &ledger.ScanRequest{Filters: req.Filters, From: req.From, Size: req.Size, SortBy: req.SortBy, SortOrder: req.SortOrder}
		res, err := store.Scan(c.Request.Context(), scanReq)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.CodeForError(err), err.Error()))
			return
		}
		items := lo.Map(res.Items, func(it *models.Purchase, _ int) *PurchaseItem { return toPurchaseItem(it) })
		c.JSON(http.StatusOK, response.OKT(&ListPurchasesResponse{Items: items, Total: res.Total}))
	}
}

// @Summary      Cancel Purchase (Admin)
// @Description  Cancels a pending purchase (expiring its checkout session) or a completed one (revoking the enrollment).
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Purchase ID"
// @Param        request body CancelPurchaseRequest false "Cancellation reason"
// @Success      200  {object}  handlers.RespPurchase
// @Router       /api/v1/admin/purchases/{id}/cancel [post]
func ApiCancelPurchase(svc Checkouter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CancelPurchaseRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
				return
			}
		}
		p, err := svc.Cancel(c.Request.Context(), c.Param("id"), middleware.UserID(c), req.Reason)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.CodeForError(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(toPurchaseItem(p)))
	}
}

func RegisterAdminPaymentRoutes(r gin.IRouter, store PurchaseScanner, svc Checkouter) {
	r.POST("/list_purchases", ApiListPurchases(store))
	r.POST("/purchases/:id/cancel", ApiCancelPurchase(svc))
}
