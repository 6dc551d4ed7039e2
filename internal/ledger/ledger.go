package ledger

import (
	"context"
	"fmt"
	"github.com/IlyasAtabaev731/banking-ledger/internal/domain/models"
	"github.com/shopspring/decimal"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultSaveTimeout     = 5 * time.Second
	DefaultStartingBalance = 1000
)

type Gateway interface {
	Load(ctx context.Context) (models.Snapshot, error)
	Save(ctx context.Context, snapshot models.Snapshot) error
}

type Hasher interface {
	Hash(password string) (string, error)
	Matches(hash, password string) bool
}

type Publisher interface {
	Publish(ctx context.Context, event models.TransferCompleted) error
}

type Option func(*Service)

func WithStartingBalance(balance decimal.Decimal) Option {
	return func(s *Service) { s.startingBalance = balance }
}

func WithSaveTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.saveTimeout = timeout
		}
	}
}

func WithPublisher(publisher Publisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns the account map. Register and Transfer hold the write lock
// until their snapshot has been handed to the gateway.
type Service struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	dirty    bool

	gateway         Gateway
	hasher          Hasher
	publisher       Publisher
	logger          *slog.Logger
	startingBalance decimal.Decimal
	saveTimeout     time.Duration
	now             func() time.Time
}

// New restores the ledger from the gateway. Any load error is returned as is:
// the service must not start on top of state it could not read.
func New(ctx context.Context, logger *slog.Logger, gateway Gateway, hasher Hasher, opts ...Option) (*Service, error) {
	const op = "ledger.New"

	s := &Service{
		accounts:        make(map[string]*models.Account),
		gateway:         gateway,
		hasher:          hasher,
		publisher:       nopPublisher{},
		logger:          logger,
		startingBalance: decimal.NewFromInt(DefaultStartingBalance),
		saveTimeout:     DefaultSaveTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.startingBalance.IsNegative() {
		return nil, fmt.Errorf("%s: negative starting balance %s", op, s.startingBalance)
	}

	snapshot, err := gateway.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for username, acc := range snapshot.Accounts {
		acc := acc
		if username == "" || acc.Balance.IsNegative() {
			return nil, fmt.Errorf("%s: invalid account %q in snapshot", op, username)
		}
		acc.Username = username
		s.accounts[username] = &acc
	}

	logger.Info("Ledger loaded", slog.Int("accounts", len(s.accounts)))

	return s, nil
}

// Snapshot returns a copy of the current ledger state.
func (s *Service) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() models.Snapshot {
	snapshot := models.Snapshot{Accounts: make(map[string]models.Account, len(s.accounts))}
	for username, acc := range s.accounts {
		snapshot.Accounts[username] = *acc
	}
	return snapshot
}

// Dirty reports whether the in-memory ledger is ahead of durable storage.
func (s *Service) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dirty
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.TransferCompleted) error { return nil }
