package ledger

import (
	"context"
	"fmt"
	"github.com/IlyasAtabaev731/banking-ledger/internal/domain/models"
	"github.com/shopspring/decimal"
	"log/slog"
)

func (s *Service) Register(ctx context.Context, username, password string) error {
	const op = "ledger.Register"

	if username == "" || password == "" {
		return fmt.Errorf("%s: %w", op, ErrInvalidInput)
	}

	s.mu.RLock()
	_, exists := s.accounts[username]
	s.mu.RUnlock()
	if exists {
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	}

	// Hash before taking the write lock, bcrypt is slow on purpose.
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[username]; ok {
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	}

	s.accounts[username] = &models.Account{
		Username:   username,
		SecretHash: hash,
		Balance:    s.startingBalance,
	}

	if err := s.saveLocked(ctx, op); err != nil {
		return err
	}

	s.logger.Info("User registered",
		slog.String("username", username),
		slog.String("balance", s.startingBalance.StringFixed(2)),
	)

	return nil
}

// Authenticate never tells an unknown user apart from a wrong password.
func (s *Service) Authenticate(username, password string) bool {
	if username == "" || password == "" {
		return false
	}

	s.mu.RLock()
	acc, ok := s.accounts[username]
	var hash string
	if ok {
		hash = acc.SecretHash
	}
	s.mu.RUnlock()

	if !ok {
		return false
	}

	// Stored hashes never change, so comparing outside the lock is safe.
	return s.hasher.Matches(hash, password)
}

func (s *Service) Balance(username, password string) (decimal.Decimal, error) {
	const op = "ledger.Balance"

	if username == "" || password == "" {
		return decimal.Zero, fmt.Errorf("%s: %w", op, ErrInvalidInput)
	}

	if !s.Authenticate(username, password) {
		return decimal.Zero, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	return s.BalanceOf(username)
}

// BalanceOf looks up the balance of an already authenticated user.
func (s *Service) BalanceOf(username string) (decimal.Decimal, error) {
	const op = "ledger.BalanceOf"

	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[username]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return acc.Balance, nil
}
