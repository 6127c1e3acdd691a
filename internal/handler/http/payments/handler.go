package payments

import (
	"errors"
	"net/http"

	"coursepay/internal/domain"
	"coursepay/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	service service.OrderService
	logger  *zap.Logger
}

func NewPaymentHandler(s service.OrderService, l *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, logger: l}
}

type createOrderRequest struct {
	CourseID       string `json:"courseId"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type verifyPaymentRequest struct {
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
	CourseID          string `json:"courseId"`
	IdempotencyKey    string `json:"idempotencyKey"`
}

func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body for CreateOrder", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	res, err := h.service.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		UserID:         userID(c),
		CourseID:       req.CourseID,
		AmountMinor:    req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeError(c, "Error creating order", err)
		return
	}

	if res.Replayed {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Order already exists",
			"order":   res.Order,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"order":   res.RemoteOrder,
		"databaseOrder": gin.H{
			"id":     res.Order.ID,
			"status": res.Order.Status,
		},
	})
}

func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body for VerifyPayment", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid request body"})
		return
	}

	res, err := h.service.VerifyPayment(c.Request.Context(), userID(c), domain.PaymentCallback{
		RemoteOrderID:  req.RazorpayOrderID,
		PaymentID:      req.RazorpayPaymentID,
		Signature:      req.RazorpaySignature,
		CourseID:       req.CourseID,
		IdempotencyKey: req.IdempotencyKey,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Payment verified successfully",
			"order":   res.Order,
		})
	case errors.Is(err, domain.ErrSignatureMismatch) && res != nil:
		h.logger.Warn("Payment signature mismatch", zap.String("remote_order_id", req.RazorpayOrderID))
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": domain.ReasonInvalidSignature,
			"order":   res.Order,
		})
	case errors.Is(err, domain.ErrPaymentFailed) && res != nil:
		message := domain.ReasonPaymentNotCompleted
		if res.Order.Error != nil {
			message = *res.Order.Error
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": message,
			"order":   res.Order,
		})
	default:
		h.writeError(c, "Error verifying payment", err)
	}
}

// writeError maps service errors onto status codes. Upstream detail is logged,
// not returned.
func (h *PaymentHandler) writeError(c *gin.Context, action string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		h.logger.Warn(action, zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		h.logger.Info(action, zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": err.Error()})
	default:
		h.logger.Error(action, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
	}
}
