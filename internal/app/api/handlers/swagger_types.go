package handlers

import (
	"github.com/fatflowers/academy/internal/app/service/checkout"
	"github.com/fatflowers/academy/internal/app/service/enrollment"
	"github.com/fatflowers/academy/internal/app/service/statistics"
	"github.com/fatflowers/academy/pkg/response"
)

// RespOK is a generic OK envelope for endpoints returning no specific data.
type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

// RespCheckout wraps checkout.Result in the standard envelope.
type RespCheckout struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    checkout.Result          `json:"data"`
}

type RespEnrollments struct {
	Code    response.APIResponseCode   `json:"code"`
	Message string                     `json:"message"`
	Data    []enrollment.CourseSummary `json:"data"`
}

type RespIsEnrolled struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    IsEnrolledResponse       `json:"data"`
}

// RespListPurchases wraps ListPurchasesResponse in the standard envelope.
type RespListPurchases struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ListPurchasesResponse    `json:"data"`
}

type RespPurchase struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    PurchaseItem             `json:"data"`
}

// RespDashboard wraps statistics.Dashboard in the standard envelope.
type RespDashboard struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    statistics.Dashboard     `json:"data"`
}

type RespEnrolledStudents struct {
	Code    response.APIResponseCode      `json:"code"`
	Message string                        `json:"message"`
	Data    []*statistics.EnrolledStudent `json:"data"`
}
