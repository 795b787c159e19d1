package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/academy/internal/app/service/checkout"
	"github.com/fatflowers/academy/internal/app/service/enrollment"
	"github.com/fatflowers/academy/internal/app/service/ledger"
	nh "github.com/fatflowers/academy/internal/app/service/notification_handler"
	"github.com/fatflowers/academy/internal/app/service/statistics"
	"github.com/fatflowers/academy/internal/models"
	"github.com/fatflowers/academy/internal/platform/gateway"
	"github.com/fatflowers/academy/internal/platform/gateway/gatewaytest"
	"github.com/fatflowers/academy/pkg/errs"
	"github.com/fatflowers/academy/pkg/logctx"
	"github.com/fatflowers/academy/pkg/response"
	"github.com/fatflowers/academy/pkg/types"
)

type stubCheckout struct {
	res       *checkout.Result
	err       error
	gotUser   string
	gotCourse string
	canceled  *models.Purchase
	gotReason string
}

func (s *stubCheckout) Initiate(_ context.Context, userID, courseID string) (*checkout.Result, error) {
	s.gotUser, s.gotCourse = userID, courseID
	return s.res, s.err
}

func (s *stubCheckout) Cancel(_ context.Context, purchaseID, _ string, reason string) (*models.Purchase, error) {
	s.gotReason = reason
	if s.err != nil {
		return nil, s.err
	}
	s.canceled = &models.Purchase{ID: purchaseID, Status: types.PurchaseStatusCanceled}
	return s.canceled, nil
}

type stubEnrollments struct{ enrolled map[string]bool }

func (s *stubEnrollments) IsEnrolled(_ context.Context, userID, courseID string) (bool, error) {
	return s.enrolled[userID+"/"+courseID], nil
}

func (s *stubEnrollments) ListEnrolled(context.Context, string) ([]*enrollment.CourseSummary, error) {
	return nil, nil
}

type stubScanner struct{ req *ledger.ScanRequest }

func (s *stubScanner) Scan(_ context.Context, req *ledger.ScanRequest) (*ledger.ScanResponse, error) {
	s.req = req
	return &ledger.ScanResponse{Items: []*models.Purchase{{ID: "p-1", Status: types.PurchaseStatusCompleted}}, Total: 1}, nil
}

type stubDashboard struct{}

func (stubDashboard) GetDashboard(_ context.Context, educatorID string) (*statistics.Dashboard, error) {
	return &statistics.Dashboard{TotalEarnings: map[string]int64{"usd": 9000}, TotalStudents: 1, TotalCourses: len(educatorID)}, nil
}

func (stubDashboard) ListEnrolledStudents(_ context.Context, educatorID string) ([]*statistics.EnrolledStudent, error) {
	if educatorID == "e-down" {
		return nil, fmt.Errorf("list completed purchases: storage down")
	}
	return []*statistics.EnrolledStudent{{UserID: "u-1", CourseID: "c-1", CourseTitle: "Go Basics", PurchaseID: "p-1"}}, nil
}

func asUser(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(logctx.KeyUserID, id)
		c.Next()
	}
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) *response.APIResponse[T] {
	t.Helper()
	var out response.APIResponse[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return &out
}

func TestApiCheckout(t *testing.T) {
	svc := &stubCheckout{res: &checkout.Result{RedirectURL: "https://pay.example/cs_1", PurchaseID: "p-1"}}
	r := newRouter()
	RegisterCheckoutRoutes(r.Group("/api/v1", asUser("u-1")), svc, &stubEnrollments{}, zap.NewNop().Sugar())

	w := doJSON(r, http.MethodPost, "/api/v1/checkout", map[string]string{"course_id": "c-1"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[checkout.Result](t, w)
	require.Equal(t, response.APIResponseCodeOK, body.Code)
	require.Equal(t, "https://pay.example/cs_1", body.Data.RedirectURL)
	require.Equal(t, "u-1", svc.gotUser)
	require.Equal(t, "c-1", svc.gotCourse)

	w = doJSON(r, http.MethodPost, "/api/v1/checkout", map[string]string{})
	require.Equal(t, response.APIResponseCodeBadRequest, decode[any](t, w).Code)
}

func TestApiCheckout_ErrorCodes(t *testing.T) {
	cases := map[error]response.APIResponseCode{
		fmt.Errorf("course c-9: %w", errs.ErrNotFound):               response.APIResponseCodeNotFound,
		fmt.Errorf("create session: %w", errs.ErrGatewayUnavailable): response.APIResponseCodeUnavailable,
		fmt.Errorf("lock: %w", errs.ErrBusy):                          response.APIResponseCodeUnavailable,
		fmt.Errorf("create session: %w", errs.ErrGatewayRejected):     response.APIResponseCodeBadRequest,
	}
	for err, code := range cases {
		r := newRouter()
		RegisterCheckoutRoutes(r.Group("/api/v1", asUser("u-1")), &stubCheckout{err: err}, &stubEnrollments{}, zap.NewNop().Sugar())
		w := doJSON(r, http.MethodPost, "/api/v1/checkout", map[string]string{"course_id": "c-9"})
		require.Equal(t, code, decode[any](t, w).Code, err.Error())
	}
}

func TestApiEnrollments(t *testing.T) {
	r := newRouter()
	RegisterCheckoutRoutes(r.Group("/api/v1", asUser("u-1")), &stubCheckout{}, &stubEnrollments{enrolled: map[string]bool{"u-1/c-1": true}}, zap.NewNop().Sugar())

	w := doJSON(r, http.MethodGet, "/api/v1/enrollments/c-1", nil)
	require.True(t, decode[IsEnrolledResponse](t, w).Data.Enrolled)
	w = doJSON(r, http.MethodGet, "/api/v1/enrollments/c-2", nil)
	require.False(t, decode[IsEnrolledResponse](t, w).Data.Enrolled)

	w = doJSON(r, http.MethodGet, "/api/v1/enrollments", nil)
	list := decode[[]*enrollment.CourseSummary](t, w)
	require.NotNil(t, list.Data)
	require.Empty(t, list.Data)
}

func TestApiListPurchases(t *testing.T) {
	scanner := &stubScanner{}
	r := newRouter()
	RegisterAdminPaymentRoutes(r.Group("/api/v1/admin"), scanner, &stubCheckout{})

	w := doJSON(r, http.MethodPost, "/api/v1/admin/list_purchases", ListPurchaseRequest{
		Filters: []*types.CommonFilter{{Field: "status", Operator: types.CommonFilterOperatorEq, Values: []any{"completed"}}},
		Size:    20,
	})
	body := decode[ListPurchasesResponse](t, w)
	require.Equal(t, response.APIResponseCodeOK, body.Code)
	require.EqualValues(t, 1, body.Data.Total)
	require.Equal(t, "p-1", body.Data.Items[0].ID)
	require.Equal(t, 20, scanner.req.Size)
	require.Equal(t, "status", scanner.req.Filters[0].Field)
}

func TestApiCancelPurchase(t *testing.T) {
	svc := &stubCheckout{}
	r := newRouter()
	RegisterAdminPaymentRoutes(r.Group("/api/v1/admin", asUser("admin-1")), &stubScanner{}, svc)

	w := doJSON(r, http.MethodPost, "/api/v1/admin/purchases/p-7/cancel", CancelPurchaseRequest{Reason: "chargeback"})
	body := decode[PurchaseItem](t, w)
	require.Equal(t, response.APIResponseCodeOK, body.Code)
	require.Equal(t, "p-7", body.Data.ID)
	require.Equal(t, types.PurchaseStatusCanceled, body.Data.Status)
	require.Equal(t, "chargeback", svc.gotReason)

	svc.err = fmt.Errorf("cancel: %w", errs.ErrInvalidTransition)
	w = doJSON(r, http.MethodPost, "/api/v1/admin/purchases/p-7/cancel", nil)
	require.Equal(t, response.APIResponseCodeBadRequest, decode[any](t, w).Code)
}

func TestApiEducatorDashboard(t *testing.T) {
	r := newRouter()
	RegisterEducatorRoutes(r.Group("/api/v1/educator", asUser("e-1")), stubDashboard{})

	w := doJSON(r, http.MethodGet, "/api/v1/educator/dashboard", nil)
	body := decode[statistics.Dashboard](t, w)
	require.Equal(t, response.APIResponseCodeOK, body.Code)
	require.Equal(t, int64(9000), body.Data.TotalEarnings["usd"])
	require.Equal(t, 3, body.Data.TotalCourses)
}

func TestApiEducatorEnrolledStudents(t *testing.T) {
	r := newRouter()
	RegisterEducatorRoutes(r.Group("/api/v1/educator", asUser("e-1")), stubDashboard{})

	w := doJSON(r, http.MethodGet, "/api/v1/educator/enrolled-students", nil)
	body := decode[[]*statistics.EnrolledStudent](t, w)
	require.Equal(t, response.APIResponseCodeOK, body.Code)
	require.Len(t, body.Data, 1)
	require.Equal(t, "Go Basics", body.Data[0].CourseTitle)

	r = newRouter()
	RegisterEducatorRoutes(r.Group("/api/v1/educator", asUser("e-down")), stubDashboard{})
	w = doJSON(r, http.MethodGet, "/api/v1/educator/enrolled-students", nil)
	require.NotEqual(t, response.APIResponseCodeOK, decode[any](t, w).Code)
}

type nopRecorder struct{}

func (nopRecorder) Save(context.Context, *models.PaymentNotificationLog) {}

type nopProjector struct{}

func (nopProjector) Project(context.Context, *ledger.TransitionResult) {}

func TestApiStripeWebhook_StatusCodes(t *testing.T) {
	store := ledger.NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &models.Purchase{
		UserID: "u-1", CourseID: "c-1", AmountMinor: 9000, Currency: "usd", SessionID: lo.ToPtr("cs_1"),
	}))
	h := nh.NewNotificationHandler(gatewaytest.NewFake(), store, nopProjector{}, nopRecorder{}, nil, zap.NewNop().Sugar())
	r := newRouter()
	RegisterPaymentWebhookRoutes(r.Group("/api/v1/webhook"), h, zap.NewNop().Sugar())

	post := func(ev *gateway.Event, header http.Header) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/stripe", bytes.NewReader(gatewaytest.EncodeEvent(ev)))
		for k, v := range header {
			req.Header[k] = v
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	paid := func(session string) *gateway.Event {
		return &gateway.Event{ID: "evt_" + session, Type: "checkout.session.completed", Kind: gateway.EventKindPaymentSucceeded, SessionID: session}
	}

	w := post(paid("cs_1"), http.Header{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = post(paid("cs_unknown"), gatewaytest.SignedHeader())
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = post(paid("cs_1"), gatewaytest.SignedHeader())
	require.Equal(t, http.StatusOK, w.Code)
	var res nh.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, nh.OutcomeApplied, res.Outcome)

	w = post(paid("cs_1"), gatewaytest.SignedHeader())
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, nh.OutcomeDuplicate, res.Outcome)
}

func TestWebhookStatus(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, webhookStatus(fmt.Errorf("x: %w", errs.ErrSignatureInvalid)))
	require.Equal(t, http.StatusBadRequest, webhookStatus(fmt.Errorf("x: %w", errs.ErrValidation)))
	require.Equal(t, http.StatusUnprocessableEntity, webhookStatus(fmt.Errorf("x: %w", errs.ErrNotFound)))
	require.Equal(t, http.StatusInternalServerError, webhookStatus(fmt.Errorf("db down")))
}

func TestHealthz(t *testing.T) {
	r := newRouter()
	RegisterHealthRoutes(r)
	w := doJSON(r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", decode[map[string]string](t, w).Data["status"])
}
