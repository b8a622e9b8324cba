package http

import (
	"context"
	"net/http"
	"strings"

	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/usecase"
	"github.com/gin-gonic/gin"
)

type OrderService interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error)
}

var _ OrderService = (*usecase.Checkout)(nil)

type OrderHandler struct {
	svc OrderService
}

func NewOrderHandler(svc OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

type orderResp struct {
	ID              string               `json:"id"`
	Status          domain.OrderStatus   `json:"status"`
	PaymentStatus   domain.PaymentStatus `json:"paymentStatus"`
	PaymentMethod   string               `json:"paymentMethod"`
	PaymentIntentID string               `json:"paymentIntentId,omitempty"`
	Currency        string               `json:"currency"`
	Subtotal        string               `json:"subtotal"`
	Tax             string               `json:"tax"`
	Total           string               `json:"total"`
	Items           []domain.LineItem    `json:"items"`
	Customer        domain.CustomerInfo  `json:"customer"`
	CreatedAt       string               `json:"createdAt"`
	UpdatedAt       string               `json:"updatedAt"`
}

func toOrderResp(o *domain.Order) orderResp {
	return orderResp{
		ID:              o.ID,
		Status:          o.OrderStatus,
		PaymentStatus:   o.PaymentStatus,
		PaymentMethod:   o.PaymentMethod,
		PaymentIntentID: o.PaymentIntentID,
		Currency:        o.Currency,
		Subtotal:        o.Subtotal.StringFixed(2),
		Tax:             o.Tax.StringFixed(2),
		Total:           o.Total.StringFixed(2),
		Items:           o.Items,
		Customer:        o.Customer,
		CreatedAt:       o.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt:       o.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func (h *OrderHandler) GetOrderByID(c *gin.Context) {
	o, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResp(o))
}

type updateStatusReq struct {
	Status string `json:"status" binding:"required"`
}

// PATCH /v1/orders/:id/status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	to := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	o, err := h.svc.UpdateOrderStatus(c.Request.Context(), c.Param("id"), to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResp(o))
}
