package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Insert(ctx context.Context, a *Attempt) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Attempt, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Insert(ctx context.Context, a *Attempt) error {
	if a.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate notification attempt ID: %w", err)
		}
		a.ID = id
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO notification_attempts (id, order_id, channel, target, phone, provider_sid, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		a.ID, a.OrderID, string(a.Channel), string(a.Target), a.Phone, a.ProviderSID, string(a.Outcome), a.Detail, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert notification attempt for order %s: %w", a.OrderID, err)
	}

	return nil
}

func (r *postgresRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Attempt, error) {
	query := `
		SELECT id, order_id, channel, target, phone, provider_sid, outcome, detail, created_at
		FROM notification_attempts
		WHERE order_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query notification attempts for order %s: %w", orderID, err)
	}
	defer rows.Close()

	attempts := make([]Attempt, 0)
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.OrderID, &a.Channel, &a.Target, &a.Phone, &a.ProviderSID, &a.Outcome, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan notification attempt for order %s: %w", orderID, err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating notification attempts for order %s: %w", orderID, err)
	}

	return attempts, nil
}
