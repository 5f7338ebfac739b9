package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/shopflow/shopflow/internal/order"
)

var (
	ErrAttemptNotFound = errors.New("payment attempt not found")
	ErrOrderNotPayable = errors.New("order is not payable")
	ErrVerification    = errors.New("payment verification failed")
	ErrProvider        = errors.New("payment provider error")
)

type Repository interface {
	// CreateAttempt locks the order row, checks it is still pending with no
	// other non-terminal attempt, and inserts a fresh attempt in one
	// transaction. Returns ErrOrderNotPayable when either check fails.
	CreateAttempt(ctx context.Context, orderID uuid.UUID, kind Kind) (*Attempt, error)
	// AttachIntent stores the provider reference and client payload once the
	// provider call succeeded.
	AttachIntent(ctx context.Context, attemptID uuid.UUID, providerRef string, payload map[string]string) (*Attempt, error)
	MarkState(ctx context.Context, attemptID uuid.UUID, state State) error
	GetByProviderRef(ctx context.Context, providerRef string) (*Attempt, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Attempt, error)
	// Resolve moves the attempt to a terminal state under the order row lock.
	// When the attempt is already terminal, the stored attempt is returned
	// with resolved=false so callers can replay idempotently.
	Resolve(ctx context.Context, providerRef string, state State, payload map[string]string) (a *Attempt, resolved bool, err error)
	// ExpireStale cancels non-terminal attempts older than the cutoff so a
	// new intent can be issued for their orders.
	ExpireStale(ctx context.Context, olderThan time.Time) (int64, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const attemptColumns = `id, order_id, provider, provider_ref, amount, currency, state, payload, created_at, updated_at`

func scanAttempt(row pgx.Row, a *Attempt) error {
	return row.Scan(&a.ID, &a.OrderID, &a.Provider, &a.ProviderRef, &a.Amount, &a.Currency, &a.State, &a.Payload, &a.CreatedAt, &a.UpdatedAt)
}

func (r *postgresRepository) CreateAttempt(ctx context.Context, orderID uuid.UUID, kind Kind) (a *Attempt, err error) {
	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return nil, fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("failed to rollback attempt creation")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				a = nil
				err = fmt.Errorf("repository: failed to commit attempt creation: %w", commitErr)
			}
		}
	}()

	// Per-order serialization point: concurrent CreateAttempt and Resolve
	// calls for the same order queue up on this lock.
	var status string
	var amount float64
	var currency string
	err = tx.QueryRow(ctx, `SELECT status, total, currency FROM orders WHERE id = $1 FOR UPDATE`, orderID).
		Scan(&status, &amount, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock order %s: %w", orderID, err)
	}

	if status != string(order.StatusPending) {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, status, ErrOrderNotPayable)
	}

	var open int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM payment_attempts WHERE order_id = $1 AND state NOT IN ('succeeded', 'failed', 'cancelled')`,
		orderID,
	).Scan(&open)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to count open attempts for order %s: %w", orderID, err)
	}
	if open > 0 {
		return nil, fmt.Errorf("order %s already has an open payment attempt: %w", orderID, ErrOrderNotPayable)
	}

	attemptID, genErr := uuid.NewV4()
	if genErr != nil {
		err = fmt.Errorf("repository: failed to generate attempt ID: %w", genErr)
		return nil, err
	}

	now := time.Now().UTC()
	attempt := &Attempt{
		ID:        attemptID,
		OrderID:   orderID,
		Provider:  kind,
		Amount:    amount,
		Currency:  currency,
		State:     StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_attempts (id, order_id, provider, provider_ref, amount, currency, state, payload, created_at, updated_at)
		VALUES ($1, $2, $3, '', $4, $5, $6, NULL, $7, $7)
	`, attempt.ID, attempt.OrderID, string(attempt.Provider), attempt.Amount, attempt.Currency, string(attempt.State), now)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to insert payment attempt for order %s: %w", orderID, err)
	}

	return attempt, nil
}

func (r *postgresRepository) AttachIntent(ctx context.Context, attemptID uuid.UUID, providerRef string, payload map[string]string) (*Attempt, error) {
	query := `
		UPDATE payment_attempts
		SET provider_ref = $1, payload = $2, updated_at = $3
		WHERE id = $4
		RETURNING ` + attemptColumns

	var a Attempt
	err := scanAttempt(r.db.QueryRow(ctx, query, providerRef, payload, time.Now().UTC(), attemptID), &a)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("repository: failed to attach intent to attempt %s: %w", attemptID, err)
	}

	return &a, nil
}

func (r *postgresRepository) MarkState(ctx context.Context, attemptID uuid.UUID, state State) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE payment_attempts SET state = $1, updated_at = $2 WHERE id = $3`,
		string(state), time.Now().UTC(), attemptID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to mark attempt %s as %s: %w", attemptID, state, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

func (r *postgresRepository) GetByProviderRef(ctx context.Context, providerRef string) (*Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE provider_ref = $1`

	var a Attempt
	if err := scanAttempt(r.db.QueryRow(ctx, query, providerRef), &a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("repository: failed to select attempt by provider ref: %w", err)
	}

	return &a, nil
}

func (r *postgresRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE order_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query attempts for order %s: %w", orderID, err)
	}
	defer rows.Close()

	attempts := make([]Attempt, 0)
	for rows.Next() {
		var a Attempt
		if err := scanAttempt(rows, &a); err != nil {
			return nil, fmt.Errorf("repository: failed to scan attempt for order %s: %w", orderID, err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating attempts for order %s: %w", orderID, err)
	}

	return attempts, nil
}

func (r *postgresRepository) Resolve(ctx context.Context, providerRef string, state State, payload map[string]string) (a *Attempt, resolved bool, err error) {
	if !state.Terminal() {
		return nil, false, fmt.Errorf("repository: resolve requires a terminal state, got %s", state)
	}

	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return nil, false, fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("provider_ref", providerRef).Msg("failed to rollback attempt resolution")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				a, resolved = nil, false
				err = fmt.Errorf("repository: failed to commit attempt resolution: %w", commitErr)
			}
		}
	}()

	var current Attempt
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE provider_ref = $1 FOR UPDATE`
	if err = scanAttempt(tx.QueryRow(ctx, query, providerRef), &current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrAttemptNotFound
		}
		return nil, false, fmt.Errorf("repository: failed to lock attempt by provider ref: %w", err)
	}

	// Serialize against ledger transitions for the same order.
	if _, err = tx.Exec(ctx, `SELECT 1 FROM orders WHERE id = $1 FOR UPDATE`, current.OrderID); err != nil {
		return nil, false, fmt.Errorf("repository: failed to lock order %s: %w", current.OrderID, err)
	}

	// At-least-once webhook delivery: a replay finds the attempt already
	// terminal and gets the stored state back unchanged.
	if current.State.Terminal() {
		return &current, false, nil
	}

	now := time.Now().UTC()
	if payload != nil {
		if current.Payload == nil {
			current.Payload = make(map[string]string, len(payload))
		}
		for k, v := range payload {
			current.Payload[k] = v
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE payment_attempts SET state = $1, payload = $2, updated_at = $3 WHERE id = $4`,
		string(state), current.Payload, now, current.ID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("repository: failed to resolve attempt %s: %w", current.ID, err)
	}

	current.State = state
	current.UpdatedAt = now
	return &current, true, nil
}

func (r *postgresRepository) ExpireStale(ctx context.Context, olderThan time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE payment_attempts
		SET state = 'cancelled', updated_at = $1
		WHERE state NOT IN ('succeeded', 'failed', 'cancelled') AND updated_at < $2
	`, time.Now().UTC(), olderThan)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to expire stale attempts: %w", err)
	}

	return cmdTag.RowsAffected(), nil
}
