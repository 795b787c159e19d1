package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/academy/internal/app/api/middleware"
	"github.com/fatflowers/academy/internal/app/service/statistics"
	"github.com/fatflowers/academy/pkg/response"
)

type EducatorStats interface {
	GetDashboard(ctx context.Context, educatorID string) (*statistics.Dashboard, error)
	ListEnrolledStudents(ctx context.Context, educatorID string) ([]*statistics.EnrolledStudent, error)
}

// @Summary      Educator dashboard
// @Description  Earnings, distinct students, course count and the most recent enrollments of the calling educator.
// @Tags         Educator
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespDashboard
// @Router       /api/v1/educator/dashboard [get]
func ApiEducatorDashboard(svc EducatorStats) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := svc.GetDashboard(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.CodeForError(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(d))
	}
}

// @Summary      Enrolled students
// @Description  Every completed purchase of the calling educator's courses, most recent first.
// @Tags         Educator
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespEnrolledStudents
// @Router       /api/v1/educator/enrolled-students [get]
func ApiEducatorEnrolledStudents(svc EducatorStats) gin.HandlerFunc {
	return func(c *gin.Context) {
		students, err := svc.ListEnrolledStudents(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.CodeForError(err), err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(students))
	}
}

func RegisterEducatorRoutes(r gin.IRouter, svc EducatorStats) {
	r.GET("/dashboard", ApiEducatorDashboard(svc))
	r.GET("/enrolled-students", ApiEducatorEnrolledStudents(svc))
}
