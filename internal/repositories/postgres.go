package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/db"
	"github.com/watchearn/backend/internal/models"
)

// PostgresStore runs units of work against PostgreSQL or CockroachDB.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore constructs a store backed by the given pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InTx executes fn inside a serializable transaction. Serialization failures
// are retried, so fn must not have side effects outside the transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return crdbpgx.ExecuteTx(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func mapWriteError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrConflict
		case "23503":
			return ErrNotFound
		case "23514":
			if pgErr.ConstraintName == "users_balance_check" {
				return ErrNegativeBalance
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

const userColumns = `id, email, balance, verification_status, kyc_status, kyc_fee_paid, account_status,
        consecutive_target_misses, suspension_reason, suspended_at, suspension_count,
        engagement_evaluated_through, referral_code, referred_by, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var (
		user        models.User
		reason      sql.NullString
		suspendedAt sql.NullTime
		referredBy  sql.NullString
	)
	err := row.Scan(&user.ID, &user.Email, &user.Balance, &user.VerificationStatus, &user.KYCStatus, &user.KYCFeePaid,
		&user.AccountStatus, &user.ConsecutiveTargetMisses, &reason, &suspendedAt, &user.SuspensionCount,
		&user.EvaluatedThrough, &user.ReferralCode, &referredBy, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, err
	}
	user.SuspensionReason = reason.String
	user.SuspendedAt = timePtr(suspendedAt)
	user.ReferredBy = referredBy.String
	return user, nil
}

// CreateUser persists a new user record.
func (t *pgTx) CreateUser(ctx context.Context, user models.User) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO users (`+userColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
    `, user.ID, user.Email, user.Balance, user.VerificationStatus, user.KYCStatus, user.KYCFeePaid,
		user.AccountStatus, user.ConsecutiveTargetMisses, nullString(user.SuspensionReason), nullTime(user.SuspendedAt),
		user.SuspensionCount, user.EvaluatedThrough, user.ReferralCode, nullString(user.ReferredBy),
		user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return mapWriteError(err, "insert user")
	}
	return nil
}

// GetUser fetches a user by id.
func (t *pgTx) GetUser(ctx context.Context, userID string) (models.User, error) {
	user, err := scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.User{}, fmt.Errorf("select user: %w", err)
	}
	return user, err
}

// LockUser fetches a user by id and locks the row.
func (t *pgTx) LockUser(ctx context.Context, userID string) (models.User, error) {
	user, err := scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.User{}, fmt.Errorf("lock user: %w", err)
	}
	return user, err
}

// FindUserByReferralCode fetches the owner of a referral code.
func (t *pgTx) FindUserByReferralCode(ctx context.Context, code string) (models.User, error) {
	user, err := scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.User{}, fmt.Errorf("select user by referral code: %w", err)
	}
	return user, err
}

// UpdateStanding writes the engagement and suspension fields of a user.
func (t *pgTx) UpdateStanding(ctx context.Context, user models.User) error {
	tag, err := t.tx.Exec(ctx, `
        UPDATE users
        SET account_status = $2, consecutive_target_misses = $3, suspension_reason = $4, suspended_at = $5,
            suspension_count = $6, engagement_evaluated_through = $7, updated_at = $8
        WHERE id = $1
    `, user.ID, user.AccountStatus, user.ConsecutiveTargetMisses, nullString(user.SuspensionReason),
		nullTime(user.SuspendedAt), user.SuspensionCount, user.EvaluatedThrough, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update user standing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateVerification writes the verification and KYC fields of a user.
func (t *pgTx) UpdateVerification(ctx context.Context, user models.User) error {
	tag, err := t.tx.Exec(ctx, `
        UPDATE users
        SET verification_status = $2, kyc_status = $3, kyc_fee_paid = $4, updated_at = $5
        WHERE id = $1
    `, user.ID, user.VerificationStatus, user.KYCStatus, user.KYCFeePaid, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update user verification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustBalance adds delta to the cached balance. The users_balance_check
// constraint rejects adjustments below zero.
func (t *pgTx) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.tx.QueryRow(ctx, `
        UPDATE users SET balance = balance + $2, updated_at = now()
        WHERE id = $1
        RETURNING balance
    `, userID, delta).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, mapWriteError(err, "adjust balance")
	}
	return balance, nil
}

// ListUsersEvaluatedBefore returns users whose engagement has not been
// evaluated through the given day.
func (t *pgTx) ListUsersEvaluatedBefore(ctx context.Context, day time.Time, limit int) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
        SELECT id FROM users
        WHERE engagement_evaluated_through < $1
        ORDER BY id
        LIMIT $2
    `, day, limit)
	if err != nil {
		return nil, fmt.Errorf("list users pending evaluation: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return ids, nil
}

// CreateVideo persists a catalog entry.
func (t *pgTx) CreateVideo(ctx context.Context, video models.Video) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO videos (id, title, source_url, duration_seconds, earning_amount, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, video.ID, video.Title, video.SourceURL, video.DurationSeconds, video.EarningAmount, video.CreatedAt)
	if err != nil {
		return mapWriteError(err, "insert video")
	}
	return nil
}

// GetVideo fetches a catalog entry.
func (t *pgTx) GetVideo(ctx context.Context, videoID string) (models.Video, error) {
	var video models.Video
	err := t.tx.QueryRow(ctx, `
        SELECT id, title, source_url, duration_seconds, earning_amount, created_at
        FROM videos WHERE id = $1
    `, videoID).Scan(&video.ID, &video.Title, &video.SourceURL, &video.DurationSeconds, &video.EarningAmount, &video.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, fmt.Errorf("select video: %w", err)
	}
	return video, nil
}

// GetTask fetches a task definition.
func (t *pgTx) GetTask(ctx context.Context, taskID string) (models.Task, error) {
	var task models.Task
	err := t.tx.QueryRow(ctx, `
        SELECT id, title, reward_amount, active FROM tasks WHERE id = $1
    `, taskID).Scan(&task.ID, &task.Title, &task.RewardAmount, &task.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Task{}, ErrNotFound
		}
		return models.Task{}, fmt.Errorf("select task: %w", err)
	}
	return task, nil
}

// GetWatchSession loads and locks the session row.
func (t *pgTx) GetWatchSession(ctx context.Context, userID, videoID string) (models.WatchSession, error) {
	var (
		session      models.WatchSession
		lastReportAt sql.NullTime
	)
	err := t.tx.QueryRow(ctx, `
        SELECT user_id, video_id, video_duration_seconds, watched_seconds, last_valid_position, last_report_at,
               is_completed, is_earning_credited, created_at, updated_at
        FROM watch_sessions
        WHERE user_id = $1 AND video_id = $2
        FOR UPDATE
    `, userID, videoID).Scan(&session.UserID, &session.VideoID, &session.VideoDurationSeconds, &session.WatchedSeconds,
		&session.LastValidPosition, &lastReportAt, &session.IsCompleted, &session.IsEarningCredited,
		&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.WatchSession{}, ErrNotFound
		}
		return models.WatchSession{}, fmt.Errorf("select watch session: %w", err)
	}
	session.LastReportAt = timePtr(lastReportAt)
	return session, nil
}

// CreateWatchSession persists a new session.
func (t *pgTx) CreateWatchSession(ctx context.Context, session models.WatchSession) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO watch_sessions (user_id, video_id, video_duration_seconds, watched_seconds, last_valid_position,
                                    last_report_at, is_completed, is_earning_credited, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, session.UserID, session.VideoID, session.VideoDurationSeconds, session.WatchedSeconds, session.LastValidPosition,
		nullTime(session.LastReportAt), session.IsCompleted, session.IsEarningCredited, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return mapWriteError(err, "insert watch session")
	}
	return nil
}

// UpdateWatchSession writes the progress fields of a session.
func (t *pgTx) UpdateWatchSession(ctx context.Context, session models.WatchSession) error {
	tag, err := t.tx.Exec(ctx, `
        UPDATE watch_sessions
        SET watched_seconds = $3, last_valid_position = $4, last_report_at = $5,
            is_completed = $6, is_earning_credited = $7, updated_at = $8
        WHERE user_id = $1 AND video_id = $2
    `, session.UserID, session.VideoID, session.WatchedSeconds, session.LastValidPosition, nullTime(session.LastReportAt),
		session.IsCompleted, session.IsEarningCredited, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update watch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertEarning appends a ledger entry. A duplicate source is reported as
// ErrConflict without aborting the surrounding transaction.
func (t *pgTx) InsertEarning(ctx context.Context, entry models.EarningsEntry) error {
	tag, err := t.tx.Exec(ctx, `
        INSERT INTO earnings_entries (id, user_id, type, amount, source_ref, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (user_id, type, source_ref) DO NOTHING
    `, entry.ID, entry.UserID, entry.Type, entry.Amount, entry.SourceRef, entry.CreatedAt)
	if err != nil {
		return mapWriteError(err, "insert earning")
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// SumEarnings totals the ledger for a user.
func (t *pgTx) SumEarnings(ctx context.Context, userID string, typ models.EarningType) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx, `
        SELECT COALESCE(SUM(amount), 0)
        FROM earnings_entries
        WHERE user_id = $1 AND ($2 = '' OR type = $2)
    `, userID, string(typ)).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum earnings: %w", err)
	}
	return total, nil
}

// ListEarnings returns the most recent ledger entries for a user.
func (t *pgTx) ListEarnings(ctx context.Context, userID string, limit int) ([]models.EarningsEntry, error) {
	rows, err := t.tx.Query(ctx, `
        SELECT id, user_id, type, amount, source_ref, created_at
        FROM earnings_entries
        WHERE user_id = $1
        ORDER BY created_at DESC, id
        LIMIT $2
    `, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list earnings: %w", err)
	}
	defer rows.Close()

	var entries []models.EarningsEntry
	for rows.Next() {
		var entry models.EarningsEntry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Type, &entry.Amount, &entry.SourceRef, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan earning: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate earnings: %w", err)
	}
	return entries, nil
}

// ListBalanceDrift returns users whose cached balance differs from the
// ledger total minus completed payouts.
func (t *pgTx) ListBalanceDrift(ctx context.Context) ([]models.BalanceDrift, error) {
	rows, err := t.tx.Query(ctx, `
        SELECT u.id, u.balance,
               COALESCE((SELECT SUM(e.amount) FROM earnings_entries e WHERE e.user_id = u.id), 0),
               COALESCE((SELECT SUM(p.amount) FROM payout_requests p WHERE p.user_id = u.id AND p.status = 'completed'), 0)
        FROM users u
        ORDER BY u.id
    `)
	if err != nil {
		return nil, fmt.Errorf("query balance drift: %w", err)
	}
	defer rows.Close()

	var drifts []models.BalanceDrift
	for rows.Next() {
		var d models.BalanceDrift
		if err := rows.Scan(&d.UserID, &d.CachedBalance, &d.LedgerSum, &d.CompletedPayouts); err != nil {
			return nil, fmt.Errorf("scan balance drift: %w", err)
		}
		if !d.Delta().IsZero() {
			drifts = append(drifts, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance drift: %w", err)
	}
	return drifts, nil
}

// AddWatchTime accumulates watched seconds on the user's record for day.
func (t *pgTx) AddWatchTime(ctx context.Context, userID string, day time.Time, seconds float64, targetMinutes int) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO daily_engagement (user_id, day, watched_seconds, target_minutes)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id, day)
        DO UPDATE SET watched_seconds = daily_engagement.watched_seconds + excluded.watched_seconds
    `, userID, day, seconds, targetMinutes)
	if err != nil {
		return mapWriteError(err, "add watch time")
	}
	return nil
}

// GetDailyRecord fetches the engagement record for a user and day.
func (t *pgTx) GetDailyRecord(ctx context.Context, userID string, day time.Time) (models.DailyEngagementRecord, error) {
	var (
		record      models.DailyEngagementRecord
		metTarget   sql.NullBool
		finalizedAt sql.NullTime
	)
	err := t.tx.QueryRow(ctx, `
        SELECT user_id, day, watched_seconds, target_minutes, met_target, finalized_at
        FROM daily_engagement
        WHERE user_id = $1 AND day = $2
    `, userID, day).Scan(&record.UserID, &record.Day, &record.WatchedSeconds, &record.TargetMinutes, &metTarget, &finalizedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DailyEngagementRecord{}, ErrNotFound
		}
		return models.DailyEngagementRecord{}, fmt.Errorf("select daily engagement: %w", err)
	}
	if metTarget.Valid {
		met := metTarget.Bool
		record.MetTarget = &met
	}
	record.FinalizedAt = timePtr(finalizedAt)
	return record, nil
}

// SaveDailyRecord upserts the engagement record, typically to finalize it.
func (t *pgTx) SaveDailyRecord(ctx context.Context, record models.DailyEngagementRecord) error {
	metTarget := sql.NullBool{}
	if record.MetTarget != nil {
		metTarget = sql.NullBool{Bool: *record.MetTarget, Valid: true}
	}
	_, err := t.tx.Exec(ctx, `
        INSERT INTO daily_engagement (user_id, day, watched_seconds, target_minutes, met_target, finalized_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (user_id, day)
        DO UPDATE SET watched_seconds = excluded.watched_seconds, target_minutes = excluded.target_minutes,
                      met_target = excluded.met_target, finalized_at = excluded.finalized_at
    `, record.UserID, record.Day, record.WatchedSeconds, record.TargetMinutes, metTarget, nullTime(record.FinalizedAt))
	if err != nil {
		return mapWriteError(err, "save daily engagement")
	}
	return nil
}

const payoutColumns = `id, user_id, amount, status, requested_at, processed_at, reason, batch_id`

func scanPayout(row pgx.Row) (models.PayoutRequest, error) {
	var (
		payout      models.PayoutRequest
		processedAt sql.NullTime
		reason      sql.NullString
		batchID     sql.NullString
	)
	if err := row.Scan(&payout.ID, &payout.UserID, &payout.Amount, &payout.Status, &payout.RequestedAt,
		&processedAt, &reason, &batchID); err != nil {
		return models.PayoutRequest{}, err
	}
	payout.ProcessedAt = timePtr(processedAt)
	payout.Reason = reason.String
	payout.BatchID = batchID.String
	return payout, nil
}

func collectPayouts(rows pgx.Rows) ([]models.PayoutRequest, error) {
	defer rows.Close()
	var payouts []models.PayoutRequest
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		payouts = append(payouts, payout)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payouts: %w", err)
	}
	return payouts, nil
}

// InsertPayout persists a new withdrawal request.
func (t *pgTx) InsertPayout(ctx context.Context, payout models.PayoutRequest) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO payout_requests (`+payoutColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, payout.ID, payout.UserID, payout.Amount, payout.Status, payout.RequestedAt, nullTime(payout.ProcessedAt),
		nullString(payout.Reason), nullString(payout.BatchID))
	if err != nil {
		return mapWriteError(err, "insert payout")
	}
	return nil
}

// GetPayout loads and locks a withdrawal request.
func (t *pgTx) GetPayout(ctx context.Context, payoutID string) (models.PayoutRequest, error) {
	payout, err := scanPayout(t.tx.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payout_requests WHERE id = $1 FOR UPDATE`, payoutID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PayoutRequest{}, ErrNotFound
		}
		return models.PayoutRequest{}, fmt.Errorf("select payout: %w", err)
	}
	return payout, nil
}

// UpdatePayout writes the lifecycle fields of a withdrawal request.
func (t *pgTx) UpdatePayout(ctx context.Context, payout models.PayoutRequest) error {
	tag, err := t.tx.Exec(ctx, `
        UPDATE payout_requests
        SET status = $2, processed_at = $3, reason = $4, batch_id = $5
        WHERE id = $1
    `, payout.ID, payout.Status, nullTime(payout.ProcessedAt), nullString(payout.Reason), nullString(payout.BatchID))
	if err != nil {
		return mapWriteError(err, "update payout")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HasOutstandingPayout reports whether the user has a pending or processing request.
func (t *pgTx) HasOutstandingPayout(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM payout_requests WHERE user_id = $1 AND status IN ('pending', 'processing')
        )
    `, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check outstanding payout: %w", err)
	}
	return exists, nil
}

// ListPayouts returns a user's withdrawal requests, newest first.
func (t *pgTx) ListPayouts(ctx context.Context, userID string) ([]models.PayoutRequest, error) {
	rows, err := t.tx.Query(ctx, `
        SELECT `+payoutColumns+` FROM payout_requests
        WHERE user_id = $1
        ORDER BY requested_at DESC, id
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	return collectPayouts(rows)
}

// ListPayoutsByStatus returns every request in the given state, oldest first.
func (t *pgTx) ListPayoutsByStatus(ctx context.Context, status models.PayoutStatus) ([]models.PayoutRequest, error) {
	rows, err := t.tx.Query(ctx, `
        SELECT `+payoutColumns+` FROM payout_requests
        WHERE status = $1
        ORDER BY requested_at, id
    `, status)
	if err != nil {
		return nil, fmt.Errorf("list payouts by status: %w", err)
	}
	return collectPayouts(rows)
}

// SumCompletedPayouts totals the user's completed withdrawals.
func (t *pgTx) SumCompletedPayouts(ctx context.Context, userID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.QueryRow(ctx, `
        SELECT COALESCE(SUM(amount), 0) FROM payout_requests
        WHERE user_id = $1 AND status = 'completed'
    `, userID).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum completed payouts: %w", err)
	}
	return total, nil
}

// InsertReactivationOrder persists a new gateway order.
func (t *pgTx) InsertReactivationOrder(ctx context.Context, order models.ReactivationOrder) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO reactivation_orders (id, user_id, order_id, amount, status, episode, payment_url, created_at, verified_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, order.ID, order.UserID, order.OrderID, order.Amount, order.Status, order.Episode, order.PaymentURL,
		order.CreatedAt, nullTime(order.VerifiedAt))
	if err != nil {
		return mapWriteError(err, "insert reactivation order")
	}
	return nil
}

// GetReactivationOrder loads and locks an order by its gateway order id.
func (t *pgTx) GetReactivationOrder(ctx context.Context, orderID string) (models.ReactivationOrder, error) {
	var (
		order      models.ReactivationOrder
		verifiedAt sql.NullTime
	)
	err := t.tx.QueryRow(ctx, `
        SELECT id, user_id, order_id, amount, status, episode, payment_url, created_at, verified_at
        FROM reactivation_orders
        WHERE order_id = $1
        FOR UPDATE
    `, orderID).Scan(&order.ID, &order.UserID, &order.OrderID, &order.Amount, &order.Status, &order.Episode,
		&order.PaymentURL, &order.CreatedAt, &verifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ReactivationOrder{}, ErrNotFound
		}
		return models.ReactivationOrder{}, fmt.Errorf("select reactivation order: %w", err)
	}
	order.VerifiedAt = timePtr(verifiedAt)
	return order, nil
}

// UpdateReactivationOrder writes the status of an order.
func (t *pgTx) UpdateReactivationOrder(ctx context.Context, order models.ReactivationOrder) error {
	tag, err := t.tx.Exec(ctx, `
        UPDATE reactivation_orders SET status = $2, verified_at = $3 WHERE order_id = $1
    `, order.OrderID, order.Status, nullTime(order.VerifiedAt))
	if err != nil {
		return fmt.Errorf("update reactivation order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
