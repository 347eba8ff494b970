package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"storefront/internal/domain"
	"storefront/internal/metrics"
	"storefront/internal/repository"
	"storefront/internal/service"
)

// Deps зависимости HTTP-слоя
type Deps struct {
	Catalog  *service.CatalogService
	Cart     *service.CartService
	Checkout *service.CheckoutService
	Orders   *service.OrderService
	Log      *slog.Logger
	Metrics  *metrics.Metrics
	// Health проверка хранилища для /health; nil означает всегда ok
	Health func(ctx context.Context) error
}

type Server struct {
	engine   *gin.Engine
	catalog  *service.CatalogService
	cart     *service.CartService
	checkout *service.CheckoutService
	orders   *service.OrderService
	log      *slog.Logger
	metrics  *metrics.Metrics
	health   func(ctx context.Context) error
}

func NewServer(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	s := &Server{
		engine:   r,
		catalog:  d.Catalog,
		cart:     d.Cart,
		checkout: d.Checkout,
		orders:   d.Orders,
		log:      log,
		metrics:  d.Metrics,
		health:   d.Health,
	}
	r.Use(s.requestLog(), gin.Recovery())
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

// Handler engine под otelhttp: span на каждый входящий запрос
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.engine, "storefront")
}

func (s *Server) registerRoutes() {
	// Swagger UI
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	s.engine.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.engine.Group("/api/v1")
	{
		items := v1.Group("/items")
		items.POST("", s.createItem)
		items.GET(":id", s.getItem)
		items.PUT(":id", s.updateItem)
		items.DELETE(":id", s.deactivateItem)
		items.GET("", s.listItems)

		cart := v1.Group("/cart", RequireUser())
		cart.GET("", s.getCart)
		cart.DELETE("", s.clearCart)
		cart.POST("/items", s.addCartLine)
		cart.PUT("/items/:item_id", s.updateCartLine)
		cart.DELETE("/items/:item_id", s.removeCartLine)

		orders := v1.Group("/orders", RequireUser())
		orders.POST("", s.createOrder)
		orders.GET("", s.listOrders)
		orders.GET(":id", s.getOrder)
		orders.POST(":id/payment", s.payOrder)
		orders.POST(":id/payment/retry", s.retryPayment)
	}
}

// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (s *Server) healthCheck(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Item handlers
type createItemReq struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price" swaggertype:"string" example:"19.99"`
	Stock int64           `json:"stock"`
}

// @Summary Create item
// @Tags items
// @Accept json
// @Produce json
// @Param input body createItemReq true "Item"
// @Success 201 {object} domain.Item
// @Failure 400 {object} errorResponse
// @Router /api/v1/items [post]
func (s *Server) createItem(c *gin.Context) {
	var req createItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	it, err := s.catalog.Create(c.Request.Context(), domain.Item{Name: req.Name, Price: req.Price, Stock: req.Stock})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

// @Summary Get item by id
// @Tags items
// @Produce json
// @Param id path int true "Item ID"
// @Success 200 {object} domain.Item
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /api/v1/items/{id} [get]
func (s *Server) getItem(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	it, err := s.catalog.GetByID(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

type updateItemReq struct {
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price" swaggertype:"string" example:"19.99"`
	Stock  int64           `json:"stock"`
	Active *bool           `json:"active"`
}

// @Summary Update item
// @Description Replaces the item fields. Orders already placed keep their unit prices.
// @Tags items
// @Accept json
// @Produce json
// @Param id path int true "Item ID"
// @Param input body updateItemReq true "Update"
// @Success 200 {object} domain.Item
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /api/v1/items/{id} [put]
func (s *Server) updateItem(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	var req updateItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	it, err := s.catalog.Update(c.Request.Context(), domain.Item{ID: id, Name: req.Name, Price: req.Price, Stock: req.Stock, Active: active})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// @Summary Deactivate item
// @Description Items are referenced by order lines and are never deleted.
// @Tags items
// @Produce json
// @Param id path int true "Item ID"
// @Success 200 {object} domain.Item
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /api/v1/items/{id} [delete]
func (s *Server) deactivateItem(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	it, err := s.catalog.Deactivate(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// @Summary List items
// @Tags items
// @Produce json
// @Param q query string false "Name contains"
// @Param min_price query string false "Min price"
// @Param max_price query string false "Max price"
// @Param include_inactive query bool false "Include inactive items"
// @Success 200 {array} domain.Item
// @Failure 400 {object} errorResponse
// @Router /api/v1/items [get]
func (s *Server) listItems(c *gin.Context) {
	var f repository.ItemFilter
	if q := c.Query("q"); q != "" {
		f.NameSubstring = q
	}
	if v := c.Query("min_price"); v != "" {
		x, err := decimal.NewFromString(v)
		if err != nil {
			badRequest(c, "invalid min_price")
			return
		}
		f.MinPrice = &x
	}
	if v := c.Query("max_price"); v != "" {
		x, err := decimal.NewFromString(v)
		if err != nil {
			badRequest(c, "invalid max_price")
			return
		}
		f.MaxPrice = &x
	}
	if v := c.Query("include_inactive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "invalid include_inactive")
			return
		}
		f.IncludeInactive = b
	}
	list, err := s.catalog.List(c.Request.Context(), f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
