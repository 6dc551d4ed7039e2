package ledger

import (
	"context"
	"fmt"
	"github.com/IlyasAtabaev731/banking-ledger/internal/domain/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"
	"math/big"
)

const (
	amountPlaces = 2

	// Matches NUMERIC(20,2) in the accounts table.
	maxAmountDigits = 20
)

// ValidAmount reports whether amount is a positive currency amount with at
// most two fraction digits that fits NUMERIC(20,2).
func ValidAmount(amount decimal.Decimal) bool {
	_, ok := normalizeAmount(amount)
	return ok
}

// normalizeAmount strips trailing fraction zeros and checks the result
// without rescaling the coefficient, so huge exponents stay cheap.
func normalizeAmount(amount decimal.Decimal) (decimal.Decimal, bool) {
	if !amount.IsPositive() || amount.NumDigits() > maxAmountDigits {
		return decimal.Zero, false
	}

	coef := amount.Coefficient()
	exp := amount.Exponent()

	ten := big.NewInt(10)
	rem := new(big.Int)
	for exp < -amountPlaces {
		q, r := new(big.Int).QuoRem(coef, ten, rem)
		if r.Sign() != 0 {
			return decimal.Zero, false
		}
		coef = q
		exp++
	}

	n := decimal.NewFromBigInt(coef, exp)
	if int64(n.NumDigits())+int64(exp) > maxAmountDigits-amountPlaces {
		return decimal.Zero, false
	}

	return n, true
}

// Transfer moves amount from sender to receiver. Checks run in a fixed order
// and the first failing one decides the error.
func (s *Service) Transfer(ctx context.Context, sender, senderPassword, receiver string, amount decimal.Decimal) (models.Transfer, error) {
	const op = "ledger.Transfer"

	log := s.logger.With(
		slog.String("op", op),
		slog.String("from", sender),
		slog.String("to", receiver),
	)

	amount, ok := normalizeAmount(amount)
	if sender == "" || senderPassword == "" || receiver == "" || !ok {
		return models.Transfer{}, fmt.Errorf("%s: %w", op, ErrInvalidInput)
	}

	if !s.Authenticate(sender, senderPassword) {
		log.Debug("Sender authentication failed")
		return models.Transfer{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	if sender == receiver {
		return models.Transfer{}, fmt.Errorf("%s: %w", op, ErrSelfTransfer)
	}

	transfer, err := s.apply(ctx, op, sender, receiver, amount)
	if err != nil {
		return transfer, err
	}

	log.Info("Transfer completed",
		slog.String("id", transfer.ID),
		slog.String("amount", amount.StringFixed(amountPlaces)),
	)

	if err := s.publisher.Publish(ctx, transfer.Completed()); err != nil {
		log.Error("Failed to publish transfer event", slog.String("error", err.Error()))
	}

	return transfer, nil
}

func (s *Service) apply(ctx context.Context, op, sender, receiver string, amount decimal.Decimal) (models.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.accounts[sender]
	if !ok {
		return models.Transfer{}, fmt.Errorf("%s: %w", op, ErrSenderNotFound)
	}

	to, ok := s.accounts[receiver]
	if !ok {
		return models.Transfer{}, fmt.Errorf("%s: %w", op, ErrReceiverNotFound)
	}

	if from.Balance.LessThan(amount) {
		return models.Transfer{}, fmt.Errorf("%s: %w", op, ErrInsufficientFunds)
	}

	from.Balance = from.Balance.Sub(amount)
	to.Balance = to.Balance.Add(amount)

	transfer := models.Transfer{
		ID:        uuid.NewString(),
		From:      sender,
		To:        receiver,
		Amount:    amount,
		CreatedAt: s.now().UTC(),
	}

	if err := s.saveLocked(ctx, op); err != nil {
		return transfer, err
	}

	return transfer, nil
}
