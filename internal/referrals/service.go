package referrals

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/watchearn/backend/internal/engagement"
	"github.com/watchearn/backend/internal/ledger"
	"github.com/watchearn/backend/internal/logging"
	"github.com/watchearn/backend/internal/models"
	"github.com/watchearn/backend/internal/repositories"
)

var (
	// ErrSelfReferral indicates a user is recorded as their own referrer.
	ErrSelfReferral = errors.New("user cannot refer themselves")
	// ErrInvalidEmail indicates a registration without a usable email address.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidUserID indicates a supplied user id that is not a UUID.
	ErrInvalidUserID = errors.New("user id must be a uuid")
	// ErrEmailTaken indicates the email already belongs to a user.
	ErrEmailTaken = errors.New("email already registered")
	// ErrCodeExhausted indicates no unused referral code could be generated.
	ErrCodeExhausted = errors.New("could not allocate referral code")
)

const codeAttempts = 10

// Service registers users and pays referral bonuses.
type Service struct {
	Store         repositories.Store
	Ledger        *ledger.Ledger
	Evaluator     *engagement.Evaluator
	ReferralBonus decimal.Decimal
	SignupBonus   decimal.Decimal
	NowFunc       func() time.Time
	CodeFunc      func() (string, error)
}

// NewService constructs a referral service.
func NewService(store repositories.Store, l *ledger.Ledger, evaluator *engagement.Evaluator, referralBonus, signupBonus decimal.Decimal) *Service {
	return &Service{
		Store:         store,
		Ledger:        l,
		Evaluator:     evaluator,
		ReferralBonus: referralBonus,
		SignupBonus:   signupBonus,
	}
}

func (s *Service) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc().UTC()
	}
	return time.Now().UTC()
}

func generateReferralCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreditReferral pays the referrer of referredUserID once. Users without a
// referrer and repeated calls are no-ops. The referrer is paid even while
// suspended since the credit is not an action they perform.
func (s *Service) CreditReferral(ctx context.Context, referredUserID string) error {
	logger := logging.FromContext(ctx)
	if !s.ReferralBonus.IsPositive() {
		return nil
	}

	return s.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		referred, err := tx.GetUser(ctx, referredUserID)
		if err != nil {
			return err
		}
		if referred.ReferredBy == "" {
			return nil
		}
		if referred.ReferredBy == referred.ID {
			logger.Warn("self referral detected", slog.String("user_id", referred.ID))
			return ErrSelfReferral
		}

		if _, err := tx.LockUser(ctx, referred.ReferredBy); err != nil {
			return fmt.Errorf("lock referrer: %w", err)
		}
		_, _, err = s.Ledger.CreditTx(ctx, tx, referred.ReferredBy, models.EarningReferral, s.ReferralBonus, referred.ID)
		switch {
		case errors.Is(err, ledger.ErrDuplicateCredit):
			return nil
		case err != nil:
			return err
		}
		logger.Info("referral credited",
			slog.String("referrer_id", referred.ReferredBy),
			slog.String("referred_id", referred.ID),
			slog.String("amount", s.ReferralBonus.String()),
		)
		return nil
	})
}

// NewUser is a registration request from the identity layer.
type NewUser struct {
	ID           string
	Email        string
	ReferralCode string
}

// Register creates the user, links an optional referrer and pays the signup
// bonus in one transaction. Unknown referral codes are ignored.
func (s *Service) Register(ctx context.Context, req NewUser) (models.User, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return models.User{}, ErrInvalidEmail
	}
	userID := strings.TrimSpace(req.ID)
	if userID == "" {
		userID = uuid.NewString()
	}
	if _, err := uuid.Parse(userID); err != nil {
		return models.User{}, ErrInvalidUserID
	}

	now := s.now()
	logger := logging.FromContext(ctx)
	codeFunc := s.CodeFunc
	if codeFunc == nil {
		codeFunc = generateReferralCode
	}

	var user models.User
	err := s.Store.InTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		user = models.User{
			ID:                 userID,
			Email:              email,
			Balance:            decimal.Zero,
			VerificationStatus: models.VerificationPending,
			KYCStatus:          models.KYCNotSubmitted,
			AccountStatus:      models.AccountActive,
			EvaluatedThrough:   s.Evaluator.Today(now),
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		if code := strings.TrimSpace(req.ReferralCode); code != "" {
			referrer, err := tx.FindUserByReferralCode(ctx, code)
			switch {
			case errors.Is(err, repositories.ErrNotFound):
				logger.Warn("unknown referral code ignored", slog.String("code", code))
			case err != nil:
				return fmt.Errorf("resolve referral code: %w", err)
			case referrer.ID != userID:
				user.ReferredBy = referrer.ID
			}
		}

		for i := 0; i < codeAttempts && user.ReferralCode == ""; i++ {
			code, err := codeFunc()
			if err != nil {
				return fmt.Errorf("generate referral code: %w", err)
			}
			_, err = tx.FindUserByReferralCode(ctx, code)
			if errors.Is(err, repositories.ErrNotFound) {
				user.ReferralCode = code
			} else if err != nil {
				return fmt.Errorf("check referral code: %w", err)
			}
		}
		if user.ReferralCode == "" {
			return ErrCodeExhausted
		}

		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				return ErrEmailTaken
			}
			return fmt.Errorf("create user: %w", err)
		}

		if s.SignupBonus.IsPositive() {
			_, balance, err := s.Ledger.CreditTx(ctx, tx, user.ID, models.EarningSignupBonus, s.SignupBonus, user.ID)
			if err != nil {
				return fmt.Errorf("credit signup bonus: %w", err)
			}
			user.Balance = balance
		}
		return nil
	})
	if err != nil {
		return models.User{}, err
	}

	logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.Bool("referred", user.ReferredBy != ""),
	)
	return user, nil
}
