package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/bookshop/internal/entities"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	err = db.AutoMigrate(&entities.AuditEvent{})
	require.NoError(t, err)

	return db
}

func TestRepository_LogEvent(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	bookID := uint(3)
	event := &entities.AuditEvent{
		UserID:      1,
		EventType:   entities.AuditEventApproval,
		Action:      "book_approve",
		Description: "Approved book 3",
		EntityType:  "book",
		EntityID:    &bookID,
		Status:      entities.AuditStatusSuccess,
	}

	require.NoError(t, repo.LogEvent(event))
	assert.NotZero(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())
}

func TestRepository_GetEvents(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	for i := 0; i < 15; i++ {
		entityID := uint(i%3 + 1)
		eventType := entities.AuditEventPayment
		if i%5 == 0 {
			eventType = entities.AuditEventWebhook
		}
		require.NoError(t, repo.LogEvent(&entities.AuditEvent{
			UserID:     1,
			EventType:  eventType,
			Action:     "payment_verify",
			EntityType: "payment",
			EntityID:   &entityID,
			Status:     entities.AuditStatusSuccess,
			CreatedAt:  time.Now().Add(time.Duration(-i) * time.Hour),
		}))
	}

	events, total, err := repo.GetEvents(Query{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)
	assert.Len(t, events, 10)
	assert.True(t, events[0].CreatedAt.After(events[1].CreatedAt))

	_, total, err = repo.GetEvents(Query{EventType: entities.AuditEventWebhook})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	_, total, err = repo.GetEvents(Query{EntityType: "payment", EntityID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}

func TestRepository_DeleteOldEvents(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.LogEvent(&entities.AuditEvent{Action: "old", CreatedAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, repo.LogEvent(&entities.AuditEvent{Action: "new"}))

	deleted, err := repo.DeleteOldEvents(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, total, err := repo.GetEvents(Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
