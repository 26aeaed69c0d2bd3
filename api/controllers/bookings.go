package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mycomarket/mycomarket-backend/api/middleware"
	"github.com/mycomarket/mycomarket-backend/api/responses"
	"github.com/mycomarket/mycomarket-backend/api/validators"
	"github.com/mycomarket/mycomarket-backend/internal/booking"
	"github.com/mycomarket/mycomarket-backend/internal/orders"
	"github.com/mycomarket/mycomarket-backend/pkg/logger"
)

type createBookingRequest struct {
	SlotID   string          `json:"slot_id" validate:"required,uuid"`
	Quantity decimal.Decimal `json:"quantity" validate:"required"`
}

// CreateBooking places a temporary hold on a slot for the calling client.
func CreateBooking(svc booking.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBookingRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		slotID, err := parseUUIDField(req.SlotID, "slot_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		booked, err := svc.Book(r.Context(), booking.BookInput{
			SlotID:   slotID,
			ClientID: middleware.ActorIDFromContext(r.Context()),
			Quantity: req.Quantity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, booked)
	}
}

// GetBooking returns one of the client's bookings.
func GetBooking(svc booking.Service, ordersSvc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookingID, err := uuidURLParam(r, "bookingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		booked, err := svc.Get(r.Context(), bookingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// Ownership runs through the parent order.
		if _, err := ordersSvc.Get(r.Context(), booked.OrderID, middleware.ActorIDFromContext(r.Context())); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, booked)
	}
}

// CancelBooking releases the client's hold on a slot.
func CancelBooking(svc booking.Service, ordersSvc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookingID, err := uuidURLParam(r, "bookingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		booked, err := svc.Get(r.Context(), bookingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := ordersSvc.Get(r.Context(), booked.OrderID, middleware.ActorIDFromContext(r.Context())); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Cancel(r.Context(), bookingID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "cancelled"})
	}
}
