package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mycomarket/mycomarket-backend/pkg/db/models"
	"github.com/mycomarket/mycomarket-backend/pkg/enums"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Order{}, &models.OrderItem{}, &models.Booking{}))
	return db
}

func TestFindOrCreateDraftReusesOpenCart(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	clientID := uuid.New()

	first, err := repo.FindOrCreateDraft(context.Background(), nil, clientID)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, enums.OrderStatusDraft, first.Status)

	second, err := repo.FindOrCreateDraft(context.Background(), nil, clientID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Where("client_id = ?", clientID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestFindOrCreateDraftIgnoresClosedOrders(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	clientID := uuid.New()

	placed := models.Order{ID: uuid.New(), ClientID: clientID, Status: enums.OrderStatusPending}
	require.NoError(t, db.Create(&placed).Error)

	draft, err := repo.FindOrCreateDraft(context.Background(), nil, clientID)
	require.NoError(t, err)
	assert.NotEqual(t, placed.ID, draft.ID)
	assert.Equal(t, enums.OrderStatusDraft, draft.Status)
}

func TestUpdateStatusCASMatchesCurrentStatusOnly(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)

	order := models.Order{ID: uuid.New(), ClientID: uuid.New(), Status: enums.OrderStatusPending}
	require.NoError(t, db.Create(&order).Error)

	rows, err := repo.UpdateStatusCAS(context.Background(), order.ID, enums.OrderStatusPending, enums.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows)

	// The order moved, so a second swap from pending matches nothing.
	rows, err = repo.UpdateStatusCAS(context.Background(), order.ID, enums.OrderStatusPending, enums.OrderStatusCancelled)
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows)

	reloaded, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, reloaded.Status)
}

func TestListByClientExcludesDrafts(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	clientID := uuid.New()

	draft := models.Order{ID: uuid.New(), ClientID: clientID, Status: enums.OrderStatusDraft}
	delivered := models.Order{ID: uuid.New(), ClientID: clientID, Status: enums.OrderStatusDelivered}
	other := models.Order{ID: uuid.New(), ClientID: uuid.New(), Status: enums.OrderStatusDelivered}
	require.NoError(t, db.Create(&draft).Error)
	require.NoError(t, db.Create(&delivered).Error)
	require.NoError(t, db.Create(&other).Error)

	rows, err := repo.ListByClient(context.Background(), clientID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, delivered.ID, rows[0].ID)
}

func TestDeleteItemScopedToOrder(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)

	order := models.Order{ID: uuid.New(), ClientID: uuid.New(), Status: enums.OrderStatusDraft}
	require.NoError(t, db.Create(&order).Error)

	item, err := repo.CreateItem(context.Background(), &models.OrderItem{
		ID:             uuid.New(),
		OrderID:        order.ID,
		ProducerID:     uuid.New(),
		ProductID:      uuid.New(),
		Name:           "shiitake 500g",
		Quantity:       decimal.NewFromInt(2),
		UnitPriceCents: 900,
		TotalCents:     1800,
	})
	require.NoError(t, err)

	rows, err := repo.DeleteItem(context.Background(), uuid.New(), item.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows, "foreign order id must not delete the line")

	rows, err = repo.DeleteItem(context.Background(), order.ID, item.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows)
}
