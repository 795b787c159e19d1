package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/academy/internal/app/api/middleware"
	"github.com/fatflowers/academy/internal/app/service/checkout"
	"github.com/fatflowers/academy/internal/app/service/enrollment"
	"github.com/fatflowers/academy/internal/models"
	"github.com/fatflowers/academy/pkg/logctx"
	"github.com/fatflowers/academy/pkg/response"
)

type Checkouter interface {
	Initiate(ctx context.Context, userID, courseID string) (*checkout.Result, error)
	Cancel(ctx context.Context, purchaseID, operatorID, reason string) (*models.Purchase, error)
}

type EnrollmentReader interface {
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
	ListEnrolled(ctx context.Context, userID string) ([]*enrollment.CourseSummary, error)
}

type CheckoutRequest struct {
	CourseID string `json:"course_id" binding:"required"`
}

type IsEnrolledResponse struct {
	Enrolled bool `json:"enrolled"`
}

// @Summary      Start checkout
// @Description  Returns a redirect URL to the payment page, reusing an open session for the same course. already_enrolled short-circuits.
// @Tags         Checkout
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CheckoutRequest true "Course to purchase"
// @Success      200  {object}  handlers.RespCheckout
// @Router       /api/v1/checkout [post]
func ApiCheckout(svc Checkouter, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.Initiate(c.Request.Context(), middleware.UserID(c), req.CourseID)
		if err != nil {
			logctx.FromGin(c, log).Warnw("checkout_failed", "course_id", req.CourseID, "error", err.Error())
			c.JSON(http.StatusOK, response.ErrorT[any](response.CodeForError(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      List enrolled courses
// @Tags         Enrollment
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespEnrollments
// @Router       /api/v1/enrollments [get]
func ApiListEnrollments(svc EnrollmentReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := svc.ListEnrolled(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.CodeForError(err), err.Error()))
			return
		}
		if items == nil {
			items = []*enrollment.CourseSummary{}
		}
		c.JSON(http.StatusOK, response.OKT(items))
	}
}

// @Summary      Check enrollment
// @Tags         Enrollment
// @Produce      json
// @Security     BearerAuth
// @Param        course_id path string true "Course ID"
// @Success      200  {object}  handlers.RespIsEnrolled
// @Router       /api/v1/enrollments/{course_id} [get]
func ApiIsEnrolled(svc EnrollmentReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := svc.IsEnrolled(c.Request.Context(), middleware.UserID(c), c.Param("course_id"))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.CodeForError(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(&IsEnrolledResponse{Enrolled: ok}))
	}
}

// RegisterCheckoutRoutes mounts the student routes. r must already run AuthMiddleware.
func RegisterCheckoutRoutes(r gin.IRouter, svc Checkouter, enrollments EnrollmentReader, log *zap.SugaredLogger) {
	r.POST("/checkout", ApiCheckout(svc, log))
	r.GET("/enrollments", ApiListEnrollments(enrollments))
	r.GET("/enrollments/:course_id", ApiIsEnrolled(enrollments))
}
