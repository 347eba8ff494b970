package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Cart handlers
type addCartLineReq struct {
	ItemID   int64  `json:"item_id"`
	Quantity *int64 `json:"quantity"`
}

type updateCartLineReq struct {
	Quantity *int64 `json:"quantity"`
}

// @Summary Get cart
// @Tags cart
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Success 200 {object} domain.CartSnapshot
// @Failure 401 {object} errorResponse
// @Router /api/v1/cart [get]
func (s *Server) getCart(c *gin.Context) {
	snap, err := s.cart.Snapshot(c.Request.Context(), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// @Summary Add item to cart
// @Description Quantities add up with an existing line. Quantity defaults to 1.
// @Tags cart
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param input body addCartLineReq true "Line"
// @Success 200 {object} domain.CartSnapshot
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /api/v1/cart/items [post]
func (s *Server) addCartLine(c *gin.Context) {
	var req addCartLineReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.ItemID <= 0 {
		badRequest(c, "item_id is required")
		return
	}
	qty := int64(1)
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	snap, err := s.cart.AddLine(c.Request.Context(), userID(c), req.ItemID, qty)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// @Summary Set cart line quantity
// @Description Quantity 0 or below removes the line.
// @Tags cart
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param item_id path int true "Item ID"
// @Param input body updateCartLineReq true "Quantity"
// @Success 200 {object} domain.CartSnapshot
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Failure 409 {object} errorResponse
// @Router /api/v1/cart/items/{item_id} [put]
func (s *Server) updateCartLine(c *gin.Context) {
	itemID, err := parseID(c.Param("item_id"))
	if err != nil {
		badRequest(c, "invalid item_id")
		return
	}
	var req updateCartLineReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Quantity == nil {
		badRequest(c, "quantity is required")
		return
	}
	snap, err := s.cart.UpdateLine(c.Request.Context(), userID(c), itemID, *req.Quantity)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// @Summary Remove cart line
// @Tags cart
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param item_id path int true "Item ID"
// @Success 200 {object} domain.CartSnapshot
// @Failure 400 {object} errorResponse
// @Router /api/v1/cart/items/{item_id} [delete]
func (s *Server) removeCartLine(c *gin.Context) {
	itemID, err := parseID(c.Param("item_id"))
	if err != nil {
		badRequest(c, "invalid item_id")
		return
	}
	snap, err := s.cart.RemoveLine(c.Request.Context(), userID(c), itemID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// @Summary Clear cart
// @Tags cart
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Success 200 {object} domain.CartSnapshot
// @Router /api/v1/cart [delete]
func (s *Server) clearCart(c *gin.Context) {
	snap, err := s.cart.Clear(c.Request.Context(), userID(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
