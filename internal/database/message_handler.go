package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"msggrabber/internal/domain"

	"github.com/charmbracelet/log"
)

// MaxMessagesOut caps a single retrieval whatever the request or endpoint
// asks for.
const MaxMessagesOut = 5000

const (
	OrderByStored = "stored"
	OrderByExpiry = "expiry"
)

var ErrInvalidOrder = errors.New("database: invalid message order")

var orderColumns = map[string]string{
	OrderByStored: "stored DESC",
	OrderByExpiry: "expiry DESC",
}

// MessageQuery selects the newest messages for one destination.
type MessageQuery struct {
	Dst     string
	Limit   int
	OrderBy string
	// Since, when set, drops messages stored before it.
	Since *time.Time
}

func InsertMessage(ctx context.Context, msg *domain.Message) error {
	db, err := conn()
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("database: insert message: %w", err)
	}
	return nil
}

func QueryMessages(ctx context.Context, q MessageQuery) ([]domain.Message, error) {
	db, err := conn()
	if err != nil {
		return nil, err
	}

	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = OrderByStored
	}
	order, ok := orderColumns[orderBy]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrder, q.OrderBy)
	}

	limit := q.Limit
	if limit <= 0 || limit > MaxMessagesOut {
		limit = MaxMessagesOut
	}

	query := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("dst = ?", q.Dst).
		Order(order).
		Order("id DESC").
		Limit(limit)
	if q.Since != nil {
		query = query.Where("stored >= ?", q.Since.UTC())
	}

	var msgs []domain.Message
	if err := query.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("database: query messages: %w", err)
	}
	return msgs, nil
}

// DeleteMessagesBefore removes messages stored before cutoff and returns
// how many went.
func DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := conn()
	if err != nil {
		return 0, err
	}
	res := db.WithContext(ctx).Where("stored < ?", cutoff.UTC()).Delete(&domain.Message{})
	if res.Error != nil {
		return 0, fmt.Errorf("database: purge messages: %w", res.Error)
	}
	log.Info("Purged messages", "deleted", res.RowsAffected, "before", cutoff.UTC().Format(time.RFC3339))
	return res.RowsAffected, nil
}
