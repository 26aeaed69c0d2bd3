package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mycomarket/mycomarket-backend/api/controllers"
	"github.com/mycomarket/mycomarket-backend/api/middleware"
	"github.com/mycomarket/mycomarket-backend/internal/booking"
	"github.com/mycomarket/mycomarket-backend/internal/orders"
	"github.com/mycomarket/mycomarket-backend/internal/slots"
	"github.com/mycomarket/mycomarket-backend/internal/wallet"
	"github.com/mycomarket/mycomarket-backend/pkg/config"
	"github.com/mycomarket/mycomarket-backend/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	slotsService slots.Service,
	bookingService booking.Service,
	ordersService orders.Service,
	walletService wallet.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
		middleware.Identity(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": dbP,
			"redis":    redisP,
		}))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Get("/slots/{slotId}", controllers.GetSlot(slotsService, logg))
	})

	r.Route("/api/v1/slots", func(r chi.Router) {
		r.Use(middleware.RequireRole(middleware.RoleProducer, logg))
		r.Get("/", controllers.ListSlots(slotsService, logg))
		r.Post("/", controllers.CreateSlot(slotsService, logg))
		r.Patch("/{slotId}/capacity", controllers.UpdateSlotCapacity(slotsService, logg))
		r.Patch("/{slotId}/availability", controllers.SetSlotAvailability(slotsService, logg))
		r.Delete("/{slotId}", controllers.DeleteSlot(slotsService, logg))
	})

	r.Route("/api/v1/bookings", func(r chi.Router) {
		r.Use(middleware.RequireRole(middleware.RoleClient, logg))
		r.Post("/", controllers.CreateBooking(bookingService, logg))
		r.Get("/{bookingId}", controllers.GetBooking(bookingService, ordersService, logg))
		r.Delete("/{bookingId}", controllers.CancelBooking(bookingService, ordersService, logg))
	})

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(middleware.RequireRole(middleware.RoleClient, logg))
		r.Get("/", controllers.GetCart(ordersService, logg))
		r.Post("/items", controllers.AddCartItem(ordersService, logg))
		r.Delete("/{orderId}/items/{itemId}", controllers.RemoveCartItem(ordersService, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(middleware.RequireRole(middleware.RoleClient, logg))
		r.Get("/", controllers.ListOrders(ordersService, logg))
		r.Get("/{orderId}", controllers.GetOrder(ordersService, logg))
		r.Post("/{orderId}/checkout", controllers.Checkout(ordersService, logg))
	})

	r.Route("/api/v1/wallet", func(r chi.Router) {
		r.Use(middleware.RequireRole(middleware.RoleProducer, logg))
		r.Get("/", controllers.WalletSummary(walletService, logg))
		r.Post("/withdrawals", controllers.RequestWithdrawal(walletService, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.RequireRole(middleware.RoleAdmin, logg))
		r.Post("/orders/{orderId}/transition", controllers.TransitionOrder(ordersService, logg))
		r.Get("/withdrawals", controllers.ListWithdrawals(walletService, logg))
		r.Post("/withdrawals/{withdrawalId}/resolve", controllers.ResolveWithdrawal(walletService, logg))
	})

	return r
}
