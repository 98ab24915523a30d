package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"momopay-service/internal/ledger"
	"momopay-service/internal/services"
	"momopay-service/pkg/common"
)

type IssueOtpRequest struct {
	Code       string `json:"code" binding:"required"`
	TTLSeconds int    `json:"ttl_seconds" binding:"gte=0"`
}

type VerifyOtpRequest struct {
	Otp string `json:"otp" binding:"required"`
}

type SendSMSRequest struct {
	Phone   string `json:"phone" binding:"required"`
	Message string `json:"message" binding:"required"`
}

type PaymentHandler struct {
	Payments *services.PaymentService
}

func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{Payments: payments}
}

func (h *PaymentHandler) CreateTransaction(c *gin.Context) {
	var req ledger.CreateSpec
	if !bind(c, &req) {
		return
	}
	txn, err := h.Payments.CreateTransaction(c.Request.Context(), req)
	if err != nil {
		fail(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, common.NewCreatedResponse(txn, "Transaction created"))
}

// InitiatePayment answers a gateway transport failure with the pending
// transaction in data so the caller can poll it later.
func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req ledger.CreateSpec
	if !bind(c, &req) {
		return
	}
	res, err := h.Payments.InitiatePayment(c.Request.Context(), req)
	if err != nil {
		var data interface{}
		if res != nil {
			data = res
		}
		fail(c, err, data)
		return
	}
	message := "Payment initiated"
	if !res.Accepted {
		message = "Payment rejected by gateway"
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(res, message))
}

func (h *PaymentHandler) RecordInitiationResult(c *gin.Context) {
	var req services.InitiationReport
	if !bind(c, &req) {
		return
	}
	view, err := h.Payments.RecordInitiationResult(c.Request.Context(), c.Param("reference"), req)
	respondFold(c, view, err, "Initiation result recorded")
}

// HandleCallback takes the webhook body as-is; it is stored verbatim. Hubtel
// redelivers on any non-2xx, so callbacks that can never apply are
// acknowledged with 200 and success=false.
func (h *PaymentHandler) HandleCallback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		fail(c, common.WrapError(common.KindValidation, err, "unreadable body"), nil)
		return
	}
	view, err := h.Payments.HandleCallback(c.Request.Context(), body)
	switch common.KindOf(err) {
	case common.KindUnknownReference, common.KindIllegalTransition:
		res := common.ErrorResponseFrom(err, nil)
		res.Status = http.StatusOK
		c.JSON(http.StatusOK, res)
		return
	}
	respondFold(c, view, err, "Callback processed")
}

func (h *PaymentHandler) PollStatus(c *gin.Context) {
	view, err := h.Payments.PollStatus(c.Request.Context(), c.Param("reference"))
	respondFold(c, view, err, "Status refreshed")
}

func (h *PaymentHandler) IssueOtpChallenge(c *gin.Context) {
	var req IssueOtpRequest
	if !bind(c, &req) {
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	view, err := h.Payments.IssueOtpChallenge(c.Request.Context(), c.Param("reference"), req.Code, ttl)
	respondFold(c, view, err, "OTP challenge issued")
}

func (h *PaymentHandler) VerifyOtp(c *gin.Context) {
	var req VerifyOtpRequest
	if !bind(c, &req) {
		return
	}
	view, err := h.Payments.VerifyOtp(c.Request.Context(), c.Param("reference"), req.Otp)
	respondFold(c, view, err, "OTP verified")
}

func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	refresh, _ := strconv.ParseBool(c.DefaultQuery("refresh", "false"))
	view, err := h.Payments.GetTransaction(c.Request.Context(), c.Param("reference"), refresh)
	if err != nil {
		fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(view, "Transaction found"))
}

func (h *PaymentHandler) GenerateReference(c *gin.Context) {
	ref, err := h.Payments.GenerateReference(c.Query("prefix"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(gin.H{"reference": ref}, "Reference generated"))
}

func (h *PaymentHandler) SendSMS(c *gin.Context) {
	var req SendSMSRequest
	if !bind(c, &req) {
		return
	}
	delivered, err := h.Payments.SendSMS(c.Request.Context(), req.Phone, req.Message)
	if err != nil {
		fail(c, err, nil)
		return
	}
	message := "SMS sent"
	if !delivered {
		message = "SMS not delivered"
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(gin.H{"delivered": delivered}, message))
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, common.WrapError(common.KindValidation, err, "invalid request body"), nil)
		return false
	}
	return true
}

// respondFold keeps the fold view on OTP rejections so clients see the
// attempts left.
func respondFold(c *gin.Context, view *services.FoldView, err error, message string) {
	if err != nil {
		var data interface{}
		if view != nil {
			data = view
		}
		fail(c, err, data)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(view, message))
}

func fail(c *gin.Context, err error, data interface{}) {
	res := common.ErrorResponseFrom(err, data)
	if res.Kind == common.KindInternal {
		_ = c.Error(err)
	}
	c.JSON(res.Status, res)
}
