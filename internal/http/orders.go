package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/service"
)

// Order handlers
type createOrderReq struct {
	ShippingAddress string `json:"shipping_address"`
	PaymentMethod   string `json:"payment_method"`
	Notes           string `json:"notes"`
}

type paymentReq struct {
	Succeeded     *bool  `json:"succeeded"`
	PaymentMethod string `json:"payment_method"`
	CardLastFour  string `json:"card_last_four"`
}

// @Summary Checkout
// @Description Turns the current cart into an order. A repeated Idempotency-Key returns the order created first with 200.
// @Tags orders
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param Idempotency-Key header string false "Idempotency key"
// @Param input body createOrderReq true "Checkout"
// @Success 201 {object} domain.Order
// @Success 200 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /api/v1/orders [post]
func (s *Server) createOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	o, replayed, err := s.checkout.CheckoutOnce(c.Request.Context(), userID(c), c.GetHeader(HeaderIdempotencyKey),
		service.CheckoutRequest{ShippingAddress: req.ShippingAddress, PaymentMethod: req.PaymentMethod, Notes: req.Notes})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if replayed {
		c.JSON(http.StatusOK, o)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// @Summary List own orders
// @Tags orders
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Success 200 {array} domain.Order
// @Router /api/v1/orders [get]
func (s *Server) listOrders(c *gin.Context) {
	list, err := s.orders.ListOrders(c.Request.Context(), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Get order by id
// @Tags orders
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param id path int true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /api/v1/orders/{id} [get]
func (s *Server) getOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	o, err := s.orders.GetOrder(c.Request.Context(), userID(c), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Pay for order
// @Description Applies a payment outcome. Without "succeeded" the payment simulator decides. Repeated calls on a settled order return it unchanged.
// @Tags orders
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param id path int true "Order ID"
// @Param input body paymentReq false "Payment"
// @Success 200 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /api/v1/orders/{id}/payment [post]
func (s *Server) payOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	var req paymentReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid json")
			return
		}
	}
	o, err := s.orders.ProcessPayment(c.Request.Context(), userID(c), id, service.PaymentRequest{
		Succeeded:     req.Succeeded,
		PaymentMethod: req.PaymentMethod,
		CardLastFour:  req.CardLastFour,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Retry failed payment
// @Tags orders
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param id path int true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /api/v1/orders/{id}/payment/retry [post]
func (s *Server) retryPayment(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	o, err := s.orders.RetryPayment(c.Request.Context(), userID(c), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
