package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mycomarket/mycomarket-backend/api/middleware"
	"github.com/mycomarket/mycomarket-backend/api/responses"
	"github.com/mycomarket/mycomarket-backend/api/validators"
	"github.com/mycomarket/mycomarket-backend/internal/slots"
	pkgerrors "github.com/mycomarket/mycomarket-backend/pkg/errors"
	"github.com/mycomarket/mycomarket-backend/pkg/logger"
)

const slotDateLayout = "2006-01-02"

type createSlotRequest struct {
	ProductID      string          `json:"product_id" validate:"required,uuid"`
	Date           string          `json:"date" validate:"required"`
	MaxCapacity    decimal.Decimal `json:"max_capacity" validate:"required"`
	UnitPriceCents int64           `json:"unit_price_cents" validate:"min=0"`
}

type updateCapacityRequest struct {
	MaxCapacity decimal.Decimal `json:"max_capacity" validate:"required"`
}

type setAvailabilityRequest struct {
	IsAvailable *bool `json:"is_available" validate:"required"`
}

// CreateSlot publishes a delivery window for one of the producer's products.
func CreateSlot(svc slots.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSlotRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID, err := parseUUIDField(req.ProductID, "product_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		date, err := time.Parse(slotDateLayout, req.Date)
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeValidation, err, "date must be YYYY-MM-DD"))
			return
		}

		slot, err := svc.Create(r.Context(), slots.CreateSlotInput{
			ProducerID:     middleware.ActorIDFromContext(r.Context()),
			ProductID:      productID,
			Date:           date,
			MaxCapacity:    req.MaxCapacity,
			UnitPriceCents: req.UnitPriceCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, slot)
	}
}

// ListSlots returns the producer's slots, optionally from a date forward.
func ListSlots(svc slots.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var from *time.Time
		if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
			parsed, err := time.Parse(slotDateLayout, raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeValidation, err, "from must be YYYY-MM-DD"))
				return
			}
			from = &parsed
		}

		rows, err := svc.ListByProducer(r.Context(), middleware.ActorIDFromContext(r.Context()), from)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// GetSlot returns one slot. Slots are public: clients browse them to book.
func GetSlot(svc slots.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, err := uuidURLParam(r, "slotId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		slot, err := svc.Get(r.Context(), slotID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, slot)
	}
}

// UpdateSlotCapacity resizes a slot, bounded below by its reserved quantity.
func UpdateSlotCapacity(svc slots.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, err := uuidURLParam(r, "slotId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req updateCapacityRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err = svc.UpdateCapacity(r.Context(), slotID, middleware.ActorIDFromContext(r.Context()), req.MaxCapacity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "updated"})
	}
}

// SetSlotAvailability opens or closes a slot for new bookings.
func SetSlotAvailability(svc slots.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, err := uuidURLParam(r, "slotId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req setAvailabilityRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		err = svc.SetAvailability(r.Context(), slotID, middleware.ActorIDFromContext(r.Context()), *req.IsAvailable)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "updated"})
	}
}

// DeleteSlot removes a slot that holds no reservations.
func DeleteSlot(svc slots.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, err := uuidURLParam(r, "slotId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		err = svc.Delete(r.Context(), slotID, middleware.ActorIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}
