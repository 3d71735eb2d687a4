package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skyvaultex/chrono-license-service/internal/domain"
)

// PostgresRepository implements Repository on top of pgx.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const licenseColumns = `
	id, license_key, tier, status, email, customer_id, order_id, subscription_id,
	max_activations, activated_at, expires_at, created_at, updated_at`

func scanLicense(row pgx.Row) (*domain.License, error) {
	var l domain.License
	err := row.Scan(
		&l.ID,
		&l.LicenseKey,
		&l.Tier,
		&l.Status,
		&l.Email,
		&l.CustomerID,
		&l.OrderID,
		&l.SubscriptionID,
		&l.MaxActivations,
		&l.ActivatedAt,
		&l.ExpiresAt,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLicenseNotFound
		}
		return nil, err
	}
	return &l, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateLicense inserts a license. Duplicate keys or order references map to
// domain.ErrLicenseConflict.
func (r *PostgresRepository) CreateLicense(ctx context.Context, params CreateLicenseParams) (*domain.License, error) {
	query := `
		INSERT INTO licenses (
			id, license_key, tier, status, email, customer_id, order_id,
			subscription_id, max_activations, expires_at
		)
		VALUES ($1, $2, $3, 'active', $4, $5, $6, $7, $8, $9)
		RETURNING` + licenseColumns

	license, err := scanLicense(r.db.QueryRow(ctx, query,
		uuid.NewString(),
		params.LicenseKey,
		params.Tier,
		params.Email,
		params.CustomerID,
		params.OrderID,
		params.SubscriptionID,
		normaliseMaxActivations(params.MaxActivations),
		params.ExpiresAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrLicenseConflict, err)
		}
		return nil, fmt.Errorf("insert license: %w", err)
	}
	return license, nil
}

func (r *PostgresRepository) findLicense(ctx context.Context, column, value string) (*domain.License, error) {
	query := `SELECT` + licenseColumns + ` FROM licenses WHERE ` + column + ` = $1`
	return scanLicense(r.db.QueryRow(ctx, query, value))
}

func (r *PostgresRepository) FindLicenseByKey(ctx context.Context, licenseKey string) (*domain.License, error) {
	return r.findLicense(ctx, "license_key", licenseKey)
}

func (r *PostgresRepository) FindLicenseByID(ctx context.Context, id string) (*domain.License, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrLicenseNotFound
	}
	return r.findLicense(ctx, "id", id)
}

func (r *PostgresRepository) FindLicenseByOrderID(ctx context.Context, orderID string) (*domain.License, error) {
	return r.findLicense(ctx, "order_id", orderID)
}

// FindLicenseBySubscriptionID returns the oldest license for a subscription.
func (r *PostgresRepository) FindLicenseBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.License, error) {
	query := `SELECT` + licenseColumns + `
		FROM licenses
		WHERE subscription_id = $1
		ORDER BY created_at ASC
		LIMIT 1`
	return scanLicense(r.db.QueryRow(ctx, query, subscriptionID))
}

func (r *PostgresRepository) SetLicenseStatus(ctx context.Context, id string, status domain.LicenseStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE licenses SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update license status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLicenseNotFound
	}
	return nil
}

func (r *PostgresRepository) SetLicenseExpiry(ctx context.Context, id string, expiresAt *time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE licenses SET expires_at = $2, updated_at = NOW() WHERE id = $1
	`, id, expiresAt)
	if err != nil {
		return fmt.Errorf("update license expiry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLicenseNotFound
	}
	return nil
}

func (r *PostgresRepository) queryLicenses(ctx context.Context, query string, args ...any) ([]domain.License, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	licenses := make([]domain.License, 0)
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, *license)
	}
	return licenses, rows.Err()
}

// SearchLicenses matches the query against license keys and emails.
func (r *PostgresRepository) SearchLicenses(ctx context.Context, query string, limit int) ([]domain.License, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	licenses, err := r.queryLicenses(ctx, `SELECT`+licenseColumns+`
		FROM licenses
		WHERE license_key ILIKE $1 OR email ILIKE $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, pattern, normaliseLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search licenses: %w", err)
	}
	return licenses, nil
}

func (r *PostgresRepository) ListLicenses(ctx context.Context, limit, offset int) ([]domain.License, error) {
	if offset < 0 {
		offset = 0
	}
	licenses, err := r.queryLicenses(ctx, `SELECT`+licenseColumns+`
		FROM licenses
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`, normaliseLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return licenses, nil
}

// ExpireLapsedLicenses flips active licenses whose expiry has passed to expired.
func (r *PostgresRepository) ExpireLapsedLicenses(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE licenses
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire lapsed licenses: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) ListLicensesExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.License, error) {
	licenses, err := r.queryLicenses(ctx, `SELECT`+licenseColumns+`
		FROM licenses
		WHERE status = 'active' AND expires_at >= $1 AND expires_at < $2
		ORDER BY expires_at ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list expiring licenses: %w", err)
	}
	return licenses, nil
}

func (r *PostgresRepository) ListActivations(ctx context.Context, licenseID string) ([]domain.Activation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, license_id, device_id, device_name, activated_at
		FROM license_activations
		WHERE license_id = $1
		ORDER BY activated_at DESC
	`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	activations := make([]domain.Activation, 0)
	for rows.Next() {
		var a domain.Activation
		if err := rows.Scan(&a.ID, &a.LicenseID, &a.DeviceID, &a.DeviceName, &a.ActivatedAt); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		activations = append(activations, a)
	}
	return activations, rows.Err()
}

func (r *PostgresRepository) CountActivations(ctx context.Context, licenseID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM license_activations WHERE license_id = $1
	`, licenseID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count activations: %w", err)
	}
	return count, nil
}

// TryActivate serialises on the license row (SELECT ... FOR UPDATE) so the
// count check and the insert cannot interleave with another activation,
// revocation or deactivation of the same license.
func (r *PostgresRepository) TryActivate(ctx context.Context, licenseID, deviceID string, deviceName *string) (domain.ActivationResult, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.ActivationResult{}, fmt.Errorf("begin activation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		maxActivations int
		status         domain.LicenseStatus
	)
	err = tx.QueryRow(ctx, `
		SELECT max_activations, status FROM licenses WHERE id = $1 FOR UPDATE
	`, licenseID).Scan(&maxActivations, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ActivationResult{}, domain.ErrLicenseNotFound
		}
		return domain.ActivationResult{}, fmt.Errorf("lock license: %w", err)
	}
	if status == domain.StatusRevoked {
		return domain.ActivationResult{}, domain.ErrLicenseRevoked
	}

	var outcome domain.ActivationOutcome
	tag, err := tx.Exec(ctx, `
		UPDATE license_activations
		SET activated_at = NOW()
		WHERE license_id = $1 AND device_id = $2
	`, licenseID, deviceID)
	if err != nil {
		return domain.ActivationResult{}, fmt.Errorf("refresh activation: %w", err)
	}
	if tag.RowsAffected() > 0 {
		outcome = domain.ActivationRefreshed
	}

	var count int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM license_activations WHERE license_id = $1
	`, licenseID).Scan(&count); err != nil {
		return domain.ActivationResult{}, fmt.Errorf("count activations: %w", err)
	}

	if outcome == 0 {
		if count >= maxActivations {
			return domain.ActivationResult{Outcome: domain.ActivationLimitReached, Count: count, Max: maxActivations}, nil
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO license_activations (id, license_id, device_id, device_name, activated_at)
			VALUES ($1, $2, $3, $4, NOW())
		`, uuid.NewString(), licenseID, deviceID, deviceName); err != nil {
			return domain.ActivationResult{}, fmt.Errorf("insert activation: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE licenses SET activated_at = COALESCE(activated_at, NOW()), updated_at = NOW() WHERE id = $1
		`, licenseID); err != nil {
			return domain.ActivationResult{}, fmt.Errorf("stamp license activation: %w", err)
		}
		outcome = domain.ActivationCreated
		count++
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ActivationResult{}, fmt.Errorf("commit activation: %w", err)
	}
	return domain.ActivationResult{Outcome: outcome, Count: count, Max: maxActivations}, nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, licenseID, deviceID string) error {
	if _, err := r.db.Exec(ctx, `
		DELETE FROM license_activations WHERE license_id = $1 AND device_id = $2
	`, licenseID, deviceID); err != nil {
		return fmt.Errorf("delete activation: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RevokeAll(ctx context.Context, licenseID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM license_activations WHERE license_id = $1`, licenseID); err != nil {
		return fmt.Errorf("delete activations: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RevokeLicense(ctx context.Context, licenseID string) (*domain.License, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin revoke tx: %w", err)
	}
	defer tx.Rollback(ctx)

	license, err := scanLicense(tx.QueryRow(ctx, `
		UPDATE licenses SET status = 'revoked', updated_at = NOW()
		WHERE id = $1
		RETURNING`+licenseColumns, licenseID))
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM license_activations WHERE license_id = $1`, licenseID); err != nil {
		return nil, fmt.Errorf("delete activations: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit revoke: %w", err)
	}
	return license, nil
}

// ClaimWebhookEvent inserts the marker, or takes over an unfinished claim whose
// lease has run out. Finished events are never reclaimed.
func (r *PostgresRepository) ClaimWebhookEvent(ctx context.Context, eventID, eventType string, lease time.Duration) (bool, error) {
	var id string
	err := r.db.QueryRow(ctx, `
		INSERT INTO webhook_events (id, event_id, event_type, claimed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (event_id) DO UPDATE
			SET claimed_at = NOW()
			WHERE webhook_events.processed_at IS NULL
			  AND webhook_events.claimed_at < NOW() - make_interval(secs => $4)
		RETURNING id
	`, uuid.NewString(), eventID, eventType, lease.Seconds()).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) CompleteWebhookEvent(ctx context.Context, eventID string) error {
	if _, err := r.db.Exec(ctx, `
		UPDATE webhook_events SET processed_at = NOW() WHERE event_id = $1
	`, eventID); err != nil {
		return fmt.Errorf("complete webhook event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ReleaseWebhookEvent(ctx context.Context, eventID string) error {
	if _, err := r.db.Exec(ctx, `
		UPDATE webhook_events
		SET claimed_at = 'epoch'
		WHERE event_id = $1 AND processed_at IS NULL
	`, eventID); err != nil {
		return fmt.Errorf("release webhook event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindWebhookEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	err := r.db.QueryRow(ctx, `
		SELECT id, event_id, event_type, claimed_at, processed_at
		FROM webhook_events WHERE event_id = $1
	`, eventID).Scan(&e.ID, &e.EventID, &e.EventType, &e.ClaimedAt, &e.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWebhookEventNotFound
		}
		return nil, fmt.Errorf("find webhook event: %w", err)
	}
	return &e, nil
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
