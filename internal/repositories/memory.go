package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/models"
)

// MemoryStore is an in-process Store used by tests and local tooling. Units of
// work run one at a time against a copy of the state that is only published
// when fn succeeds. InTx must not be called re-entrantly.
type MemoryStore struct {
	mu    sync.Mutex
	state *memoryState
}

type sessionKey struct {
	userID  string
	videoID string
}

type dayKey struct {
	userID string
	day    string
}

type memoryState struct {
	users         map[string]models.User
	videos        map[string]models.Video
	tasks         map[string]models.Task
	sessions      map[sessionKey]models.WatchSession
	earnings      []models.EarningsEntry
	daily         map[dayKey]models.DailyEngagementRecord
	payouts       map[string]models.PayoutRequest
	reactivations map[string]models.ReactivationOrder
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memoryState{
		users:         make(map[string]models.User),
		videos:        make(map[string]models.Video),
		tasks:         make(map[string]models.Task),
		sessions:      make(map[sessionKey]models.WatchSession),
		daily:         make(map[dayKey]models.DailyEngagementRecord),
		payouts:       make(map[string]models.PayoutRequest),
		reactivations: make(map[string]models.ReactivationOrder),
	}}
}

// PutTask registers a task definition.
func (s *MemoryStore) PutTask(task models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.tasks[task.ID] = task
}

// InTx runs fn against a snapshot and commits it when fn returns nil.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(ctx, &memoryTx{state: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (st *memoryState) clone() *memoryState {
	out := &memoryState{
		users:         make(map[string]models.User, len(st.users)),
		videos:        make(map[string]models.Video, len(st.videos)),
		tasks:         make(map[string]models.Task, len(st.tasks)),
		sessions:      make(map[sessionKey]models.WatchSession, len(st.sessions)),
		earnings:      append([]models.EarningsEntry(nil), st.earnings...),
		daily:         make(map[dayKey]models.DailyEngagementRecord, len(st.daily)),
		payouts:       make(map[string]models.PayoutRequest, len(st.payouts)),
		reactivations: make(map[string]models.ReactivationOrder, len(st.reactivations)),
	}
	for k, v := range st.users {
		out.users[k] = v
	}
	for k, v := range st.videos {
		out.videos[k] = v
	}
	for k, v := range st.tasks {
		out.tasks[k] = v
	}
	for k, v := range st.sessions {
		out.sessions[k] = v
	}
	for k, v := range st.daily {
		out.daily[k] = v
	}
	for k, v := range st.payouts {
		out.payouts[k] = v
	}
	for k, v := range st.reactivations {
		out.reactivations[k] = v
	}
	return out
}

type memoryTx struct {
	state *memoryState
}

func dayString(day time.Time) string {
	return day.Format(time.DateOnly)
}

func (t *memoryTx) CreateUser(_ context.Context, user models.User) error {
	if _, ok := t.state.users[user.ID]; ok {
		return ErrConflict
	}
	for _, existing := range t.state.users {
		if existing.Email == user.Email || existing.ReferralCode == user.ReferralCode {
			return ErrConflict
		}
	}
	if user.ReferredBy != "" && user.ReferredBy != user.ID {
		if _, ok := t.state.users[user.ReferredBy]; !ok {
			return ErrNotFound
		}
	}
	t.state.users[user.ID] = user
	return nil
}

func (t *memoryTx) GetUser(_ context.Context, userID string) (models.User, error) {
	user, ok := t.state.users[userID]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

func (t *memoryTx) LockUser(ctx context.Context, userID string) (models.User, error) {
	return t.GetUser(ctx, userID)
}

func (t *memoryTx) FindUserByReferralCode(_ context.Context, code string) (models.User, error) {
	for _, user := range t.state.users {
		if user.ReferralCode == code {
			return user, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (t *memoryTx) UpdateStanding(_ context.Context, user models.User) error {
	existing, ok := t.state.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	existing.AccountStatus = user.AccountStatus
	existing.ConsecutiveTargetMisses = user.ConsecutiveTargetMisses
	existing.SuspensionReason = user.SuspensionReason
	existing.SuspendedAt = user.SuspendedAt
	existing.SuspensionCount = user.SuspensionCount
	existing.EvaluatedThrough = user.EvaluatedThrough
	existing.UpdatedAt = user.UpdatedAt
	t.state.users[user.ID] = existing
	return nil
}

func (t *memoryTx) UpdateVerification(_ context.Context, user models.User) error {
	existing, ok := t.state.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	existing.VerificationStatus = user.VerificationStatus
	existing.KYCStatus = user.KYCStatus
	existing.KYCFeePaid = user.KYCFeePaid
	existing.UpdatedAt = user.UpdatedAt
	t.state.users[user.ID] = existing
	return nil
}

func (t *memoryTx) AdjustBalance(_ context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	user, ok := t.state.users[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	next := user.Balance.Add(delta)
	if next.IsNegative() {
		return user.Balance, ErrNegativeBalance
	}
	user.Balance = next
	t.state.users[userID] = user
	return user.Balance, nil
}

func (t *memoryTx) ListUsersEvaluatedBefore(_ context.Context, day time.Time, limit int) ([]string, error) {
	var ids []string
	for id, user := range t.state.users {
		if dayString(user.EvaluatedThrough) < dayString(day) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (t *memoryTx) CreateVideo(_ context.Context, video models.Video) error {
	if _, ok := t.state.videos[video.ID]; ok {
		return ErrConflict
	}
	for _, existing := range t.state.videos {
		if existing.SourceURL == video.SourceURL {
			return ErrConflict
		}
	}
	t.state.videos[video.ID] = video
	return nil
}

func (t *memoryTx) GetVideo(_ context.Context, videoID string) (models.Video, error) {
	video, ok := t.state.videos[videoID]
	if !ok {
		return models.Video{}, ErrNotFound
	}
	return video, nil
}

func (t *memoryTx) GetTask(_ context.Context, taskID string) (models.Task, error) {
	task, ok := t.state.tasks[taskID]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return task, nil
}

func (t *memoryTx) GetWatchSession(_ context.Context, userID, videoID string) (models.WatchSession, error) {
	session, ok := t.state.sessions[sessionKey{userID, videoID}]
	if !ok {
		return models.WatchSession{}, ErrNotFound
	}
	return session, nil
}

func (t *memoryTx) CreateWatchSession(_ context.Context, session models.WatchSession) error {
	key := sessionKey{session.UserID, session.VideoID}
	if _, ok := t.state.sessions[key]; ok {
		return ErrConflict
	}
	t.state.sessions[key] = session
	return nil
}

func (t *memoryTx) UpdateWatchSession(_ context.Context, session models.WatchSession) error {
	key := sessionKey{session.UserID, session.VideoID}
	if _, ok := t.state.sessions[key]; !ok {
		return ErrNotFound
	}
	t.state.sessions[key] = session
	return nil
}

func (t *memoryTx) InsertEarning(_ context.Context, entry models.EarningsEntry) error {
	for _, existing := range t.state.earnings {
		if existing.UserID == entry.UserID && existing.Type == entry.Type && existing.SourceRef == entry.SourceRef {
			return ErrConflict
		}
	}
	if _, ok := t.state.users[entry.UserID]; !ok {
		return ErrNotFound
	}
	t.state.earnings = append(t.state.earnings, entry)
	return nil
}

func (t *memoryTx) SumEarnings(_ context.Context, userID string, typ models.EarningType) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, entry := range t.state.earnings {
		if entry.UserID == userID && (typ == "" || entry.Type == typ) {
			total = total.Add(entry.Amount)
		}
	}
	return total, nil
}

func (t *memoryTx) ListEarnings(_ context.Context, userID string, limit int) ([]models.EarningsEntry, error) {
	var entries []models.EarningsEntry
	for i := len(t.state.earnings) - 1; i >= 0; i-- {
		if t.state.earnings[i].UserID == userID {
			entries = append(entries, t.state.earnings[i])
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (t *memoryTx) ListBalanceDrift(ctx context.Context) ([]models.BalanceDrift, error) {
	ids := make([]string, 0, len(t.state.users))
	for id := range t.state.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var drifts []models.BalanceDrift
	for _, id := range ids {
		earned, _ := t.SumEarnings(ctx, id, "")
		paid, _ := t.SumCompletedPayouts(ctx, id)
		d := models.BalanceDrift{
			UserID:           id,
			CachedBalance:    t.state.users[id].Balance,
			LedgerSum:        earned,
			CompletedPayouts: paid,
		}
		if !d.Delta().IsZero() {
			drifts = append(drifts, d)
		}
	}
	return drifts, nil
}

func (t *memoryTx) AddWatchTime(_ context.Context, userID string, day time.Time, seconds float64, targetMinutes int) error {
	key := dayKey{userID, dayString(day)}
	record, ok := t.state.daily[key]
	if !ok {
		record = models.DailyEngagementRecord{UserID: userID, Day: day, TargetMinutes: targetMinutes}
	}
	record.WatchedSeconds += seconds
	t.state.daily[key] = record
	return nil
}

func (t *memoryTx) GetDailyRecord(_ context.Context, userID string, day time.Time) (models.DailyEngagementRecord, error) {
	record, ok := t.state.daily[dayKey{userID, dayString(day)}]
	if !ok {
		return models.DailyEngagementRecord{}, ErrNotFound
	}
	return record, nil
}

func (t *memoryTx) SaveDailyRecord(_ context.Context, record models.DailyEngagementRecord) error {
	t.state.daily[dayKey{record.UserID, dayString(record.Day)}] = record
	return nil
}

func outstanding(status models.PayoutStatus) bool {
	return status == models.PayoutPending || status == models.PayoutProcessing
}

func (t *memoryTx) InsertPayout(_ context.Context, payout models.PayoutRequest) error {
	if _, ok := t.state.payouts[payout.ID]; ok {
		return ErrConflict
	}
	if outstanding(payout.Status) {
		for _, existing := range t.state.payouts {
			if existing.UserID == payout.UserID && outstanding(existing.Status) {
				return ErrConflict
			}
		}
	}
	t.state.payouts[payout.ID] = payout
	return nil
}

func (t *memoryTx) GetPayout(_ context.Context, payoutID string) (models.PayoutRequest, error) {
	payout, ok := t.state.payouts[payoutID]
	if !ok {
		return models.PayoutRequest{}, ErrNotFound
	}
	return payout, nil
}

func (t *memoryTx) UpdatePayout(_ context.Context, payout models.PayoutRequest) error {
	if _, ok := t.state.payouts[payout.ID]; !ok {
		return ErrNotFound
	}
	t.state.payouts[payout.ID] = payout
	return nil
}

func (t *memoryTx) HasOutstandingPayout(_ context.Context, userID string) (bool, error) {
	for _, payout := range t.state.payouts {
		if payout.UserID == userID && outstanding(payout.Status) {
			return true, nil
		}
	}
	return false, nil
}

func sortPayouts(payouts []models.PayoutRequest, newestFirst bool) {
	sort.Slice(payouts, func(i, j int) bool {
		if payouts[i].RequestedAt.Equal(payouts[j].RequestedAt) {
			return payouts[i].ID < payouts[j].ID
		}
		if newestFirst {
			return payouts[i].RequestedAt.After(payouts[j].RequestedAt)
		}
		return payouts[i].RequestedAt.Before(payouts[j].RequestedAt)
	})
}

func (t *memoryTx) ListPayouts(_ context.Context, userID string) ([]models.PayoutRequest, error) {
	var payouts []models.PayoutRequest
	for _, payout := range t.state.payouts {
		if payout.UserID == userID {
			payouts = append(payouts, payout)
		}
	}
	sortPayouts(payouts, true)
	return payouts, nil
}

func (t *memoryTx) ListPayoutsByStatus(_ context.Context, status models.PayoutStatus) ([]models.PayoutRequest, error) {
	var payouts []models.PayoutRequest
	for _, payout := range t.state.payouts {
		if payout.Status == status {
			payouts = append(payouts, payout)
		}
	}
	sortPayouts(payouts, false)
	return payouts, nil
}

func (t *memoryTx) SumCompletedPayouts(_ context.Context, userID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, payout := range t.state.payouts {
		if payout.UserID == userID && payout.Status == models.PayoutCompleted {
			total = total.Add(payout.Amount)
		}
	}
	return total, nil
}

func (t *memoryTx) InsertReactivationOrder(_ context.Context, order models.ReactivationOrder) error {
	if _, ok := t.state.reactivations[order.OrderID]; ok {
		return ErrConflict
	}
	t.state.reactivations[order.OrderID] = order
	return nil
}

func (t *memoryTx) GetReactivationOrder(_ context.Context, orderID string) (models.ReactivationOrder, error) {
	order, ok := t.state.reactivations[orderID]
	if !ok {
		return models.ReactivationOrder{}, ErrNotFound
	}
	return order, nil
}

func (t *memoryTx) UpdateReactivationOrder(_ context.Context, order models.ReactivationOrder) error {
	if _, ok := t.state.reactivations[order.OrderID]; !ok {
		return ErrNotFound
	}
	t.state.reactivations[order.OrderID] = order
	return nil
}
