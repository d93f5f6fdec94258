package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/internal/accounts"
	"github.com/nanophoto/nanophoto-backend/internal/ledger"
	"github.com/nanophoto/nanophoto-backend/pkg/config"
	"github.com/nanophoto/nanophoto-backend/pkg/db/models"
	pkgerrors "github.com/nanophoto/nanophoto-backend/pkg/errors"
	"github.com/nanophoto/nanophoto-backend/pkg/logger"
	"github.com/nanophoto/nanophoto-backend/pkg/redis"
	"github.com/nanophoto/nanophoto-backend/pkg/security"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// codeStore is the slice of pkg/redis the code flow needs.
type codeStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	VerificationCodeKey(accountID string) string
	VerificationAttemptsKey(accountID string) string
}

type phoneDirectory interface {
	FindByPhone(ctx context.Context, phone string) (*models.Account, error)
	SetPhone(ctx context.Context, id uuid.UUID, phone string) error
}

type pendingCode struct {
	Phone string `json:"phone"`
	Hash  string `json:"hash"`
}

type StartResult struct {
	Phone     string    `json:"phone"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ConfirmResult struct {
	Phone        string `json:"phone"`
	Verified     bool   `json:"verified"`
	BonusGranted bool   `json:"bonusGranted"`
	Balance      int64  `json:"balance"`
}

type Service interface {
	Start(ctx context.Context, accountID uuid.UUID, phone string) (*StartResult, error)
	Confirm(ctx context.Context, accountID uuid.UUID, phone, code string) (*ConfirmResult, error)
}

type ServiceParams struct {
	Store    codeStore
	Accounts phoneDirectory
	Ledger   ledger.Service
	Sender   CodeSender
	Config   config.VerificationConfig
	Hashing  config.HashingConfig
	Bonus    int64
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	store    codeStore
	accounts phoneDirectory
	ledger   ledger.Service
	sender   CodeSender
	cfg      config.VerificationConfig
	hashing  config.HashingConfig
	bonus    int64
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Store == nil:
		return nil, fmt.Errorf("code store required")
	case p.Accounts == nil:
		return nil, fmt.Errorf("account directory required")
	case p.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case p.Sender == nil:
		return nil, fmt.Errorf("code sender required")
	case p.Bonus <= 0:
		return nil, fmt.Errorf("verification bonus must be positive")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		store:    p.Store,
		accounts: p.Accounts,
		ledger:   p.Ledger,
		sender:   p.Sender,
		cfg:      p.Config,
		hashing:  p.Hashing,
		bonus:    p.Bonus,
		logg:     p.Logger,
		now:      p.Now,
	}, nil
}

// NormalizePhone strips formatting and requires E.164.
func NormalizePhone(raw string) (string, error) {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	phone := replacer.Replace(strings.TrimSpace(raw))
	if !e164.MatchString(phone) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "phone must be in E.164 format")
	}
	return phone, nil
}

func (s *service) Start(ctx context.Context, accountID uuid.UUID, rawPhone string) (*StartResult, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	if err := s.ensurePhoneAvailable(ctx, accountID, phone); err != nil {
		return nil, err
	}

	allowed, _, err := s.store.FixedWindowAllow(ctx, "verify-start:"+accountID.String(), int64(s.cfg.StartLimit), s.cfg.StartWindow)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check verification rate limit")
	}
	if !allowed {
		return nil, pkgerrors.New(pkgerrors.CodeRateLimit, "too many verification codes requested")
	}

	code, err := security.GenerateNumericCode(s.cfg.CodeLength)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate code")
	}
	hash, err := security.HashSecret(code, s.hashing)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash code")
	}
	payload, err := json.Marshal(pendingCode{Phone: phone, Hash: hash})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode pending code")
	}

	id := accountID.String()
	if err := s.store.Set(ctx, s.store.VerificationCodeKey(id), string(payload), s.cfg.CodeTTL); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store verification code")
	}
	if err := s.store.Del(ctx, s.store.VerificationAttemptsKey(id)); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset verification attempts")
	}
	if err := s.sender.Send(ctx, phone, code); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send verification code")
	}
	return &StartResult{Phone: phone, ExpiresAt: s.now().Add(s.cfg.CodeTTL).UTC()}, nil
}

func (s *service) Confirm(ctx context.Context, accountID uuid.UUID, rawPhone, code string) (*ConfirmResult, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "code is required")
	}
	id := accountID.String()
	ctx = s.logg.WithAccountID(ctx, id)

	attempts, err := s.store.IncrWithTTL(ctx, s.store.VerificationAttemptsKey(id), s.cfg.CodeTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count verification attempts")
	}
	if s.cfg.MaxAttempts > 0 && attempts > int64(s.cfg.MaxAttempts) {
		_ = s.store.Del(ctx, s.store.VerificationCodeKey(id))
		return nil, pkgerrors.New(pkgerrors.CodeRateLimit, "too many attempts, request a new code")
	}

	raw, err := s.store.Get(ctx, s.store.VerificationCodeKey(id))
	if redis.IsNil(err) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no pending verification for this account")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load verification code")
	}
	var pending pendingCode
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode pending code")
	}
	if pending.Phone != phone {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "phone does not match the pending verification")
	}
	ok, err := security.VerifySecret(code, pending.Hash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify code")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid verification code")
	}

	if err := s.ensurePhoneAvailable(ctx, accountID, phone); err != nil {
		return nil, err
	}
	if err := s.accounts.SetPhone(ctx, accountID, phone); err != nil {
		return nil, mapAccountError(err)
	}

	result, err := s.ledger.ApplyVerificationBonus(ctx, accountID, s.bonus, ledger.ActorSystem)
	if err != nil {
		return nil, err
	}
	if err := s.store.Del(ctx, s.store.VerificationCodeKey(id), s.store.VerificationAttemptsKey(id)); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "clear verification keys failed")
	}

	s.logg.Info(s.logg.WithField(ctx, "bonus_granted", result.Applied), "phone verified")
	return &ConfirmResult{
		Phone:        phone,
		Verified:     true,
		BonusGranted: result.Applied,
		Balance:      result.State.Balance,
	}, nil
}

func (s *service) ensurePhoneAvailable(ctx context.Context, accountID uuid.UUID, phone string) error {
	owner, err := s.accounts.FindByPhone(ctx, phone)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up phone")
	}
	if owner.ID != accountID {
		return pkgerrors.New(pkgerrors.CodeDuplicateIdentity, "phone number is already verified on another account")
	}
	return nil
}

func mapAccountError(err error) error {
	switch {
	case errors.Is(err, accounts.ErrPhoneClaimed):
		return pkgerrors.Wrap(pkgerrors.CodeDuplicateIdentity, err, "phone number is already verified on another account")
	case errors.Is(err, accounts.ErrNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "account not found")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save phone")
	}
}
