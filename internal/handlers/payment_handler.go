package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/markw53/mt-api/internal/helpers"
	"github.com/markw53/mt-api/internal/middleware"
	"github.com/markw53/mt-api/internal/payments"
	"go.uber.org/zap"
)

func paymentService(c *gin.Context) *payments.Service {
	return payments.NewService(middleware.GetDB(c), middleware.GetStripeClient(c), nil)
}

type CheckoutRequest struct {
	EventID uint `json:"event_id" binding:"required"`
}

// CreateCheckoutSession opens a Stripe checkout session for a paid event and
// returns its URL for the frontend redirect. The buyer is always the
// authenticated caller.
func CreateCheckoutSession(c *gin.Context) {
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "event_id is required")
		return
	}

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		helpers.RespondWithError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	cfg := middleware.GetConfig(c)

	session, err := paymentService(c).CreateCheckout(c.Request.Context(), req.EventID, userID, cfg.FrontendURL)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"url":        session.URL,
	})
}

// SyncPayment is called by the frontend after the checkout redirect. It
// confirms the session with Stripe and records the payment; calling it again
// for an already-recorded session reports already_processed.
func SyncPayment(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		helpers.RespondWithError(c, http.StatusBadRequest, "Session ID is required")
		return
	}

	result, err := paymentService(c).SyncPayment(c.Request.Context(), sessionID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	message := "Payment recorded successfully."
	if result.AlreadyProcessed {
		message = "Payment has already been processed."
	}

	c.JSON(http.StatusOK, gin.H{
		"message":           message,
		"already_processed": result.AlreadyProcessed,
		"payment_id":        result.PaymentID,
		"ticket_id":         result.TicketID,
	})
}

// GetPaymentStatus answers a payment-status poll for a checkout session.
func GetPaymentStatus(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		helpers.RespondWithError(c, http.StatusBadRequest, "Session ID is required")
		return
	}

	status, err := paymentService(c).PaymentStatus(c.Request.Context(), sessionID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetUserPayments lists a user's payment history. Callers may only read
// their own unless they are a site admin.
func GetUserPayments(c *gin.Context) {
	userID, err := helpers.StringToUint(c.Param("userId"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid user ID format")
		return
	}

	callerID, _ := middleware.CurrentUserID(c)
	if callerID != userID {
		role, _ := c.Get("user_role")
		if role != "admin" {
			helpers.RespondWithError(c, http.StatusForbidden, "You can only view your own payments")
			return
		}
	}

	list, err := paymentService(c).PaymentsByUser(c.Request.Context(), userID)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": list})
}

// HandleStripeWebhook receives Stripe's signed event notifications. The raw
// body must be read before any JSON binding so the signature check runs over
// the exact bytes Stripe signed. Once the signature and envelope check out we
// always answer 200: reconciliation failures are retried through the sync
// path rather than webhook redelivery.
func HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Unable to read request body")
		return
	}

	cfg := middleware.GetConfig(c)

	sigHeader := c.GetHeader("Stripe-Signature")
	if err := payments.VerifyWebhookSignature(payload, sigHeader, cfg.Stripe.WebhookSecret); err != nil {
		zap.L().Warn("webhook signature rejected", zap.Error(err))
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid webhook signature")
		return
	}

	event, err := payments.ParseWebhookEvent(payload)
	if err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	if err := paymentService(c).ProcessWebhookEvent(c.Request.Context(), event); err != nil {
		helpers.RespondWithAppError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
