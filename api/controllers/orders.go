package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mycomarket/mycomarket-backend/api/middleware"
	"github.com/mycomarket/mycomarket-backend/api/responses"
	"github.com/mycomarket/mycomarket-backend/api/validators"
	"github.com/mycomarket/mycomarket-backend/internal/orders"
	"github.com/mycomarket/mycomarket-backend/pkg/enums"
	pkgerrors "github.com/mycomarket/mycomarket-backend/pkg/errors"
	"github.com/mycomarket/mycomarket-backend/pkg/logger"
)

type addItemRequest struct {
	ProducerID     string          `json:"producer_id" validate:"required,uuid"`
	ProductID      string          `json:"product_id" validate:"required,uuid"`
	Name           string          `json:"name" validate:"required,max=200"`
	Quantity       decimal.Decimal `json:"quantity" validate:"required"`
	UnitPriceCents int64           `json:"unit_price_cents" validate:"min=0"`
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

// GetCart returns the client's open draft order, creating one if needed.
func GetCart(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cart, err := svc.Cart(r.Context(), middleware.ActorIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cart)
	}
}

// AddCartItem appends a direct catalog line to the client's cart.
func AddCartItem(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addItemRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		producerID, err := parseUUIDField(req.ProducerID, "producer_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := parseUUIDField(req.ProductID, "product_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.AddItem(r.Context(), orders.AddItemInput{
			ClientID:       middleware.ActorIDFromContext(r.Context()),
			ProducerID:     producerID,
			ProductID:      productID,
			Name:           req.Name,
			Quantity:       req.Quantity,
			UnitPriceCents: req.UnitPriceCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, cart)
	}
}

// RemoveCartItem drops a line from the client's cart.
func RemoveCartItem(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := uuidURLParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := uuidURLParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.RemoveItem(r.Context(), orders.RemoveItemInput{
			ClientID: middleware.ActorIDFromContext(r.Context()),
			OrderID:  orderID,
			ItemID:   itemID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cart)
	}
}

// Checkout submits the client's cart: draft moves to pending and every
// temporary booking on it is promoted.
func Checkout(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := uuidURLParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		clientID := middleware.ActorIDFromContext(r.Context())

		// Ownership first so a foreign order id cannot be checked out.
		if _, err := svc.Get(r.Context(), orderID, clientID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Transition(r.Context(), orders.TransitionInput{
			OrderID:   orderID,
			Target:    enums.OrderStatusPending,
			ActorID:   clientID,
			ActorRole: middleware.RoleFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// ListOrders returns the client's order history. Drafts never appear.
func ListOrders(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := svc.List(r.Context(), middleware.ActorIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// GetOrder returns one of the client's orders with items and bookings.
func GetOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := uuidURLParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), orderID, middleware.ActorIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// TransitionOrder moves an order to a new status. Admin only; fulfillment and
// invoicing flows go through here.
func TransitionOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := uuidURLParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req transitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseOrderStatus(req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		order, err := svc.Transition(r.Context(), orders.TransitionInput{
			OrderID:   orderID,
			Target:    target,
			ActorID:   middleware.ActorIDFromContext(r.Context()),
			ActorRole: middleware.RoleFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}
