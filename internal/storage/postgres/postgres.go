package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/IlyasAtabaev731/banking-ledger/internal/domain/models"
	_ "github.com/lib/pq"
	"log/slog"
)

type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(dbUrl string, logger *slog.Logger) (*Storage, error) {
	db, err := sql.Open("postgres", dbUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection error %s", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect database error %s", err)
	}

	return &Storage{db: db, logger: logger}, nil
}

func (s *Storage) Stop() error {
	return s.db.Close()
}

// Load reads every account row. An empty table is an empty ledger.
func (s *Storage) Load(ctx context.Context) (models.Snapshot, error) {
	const op = "storage.postgres.Load"

	rows, err := s.db.QueryContext(ctx, "SELECT username, secret_hash, balance FROM accounts")
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func(rows *sql.Rows) {
		err := rows.Close()
		if err != nil {
			s.logger.Error("Failed to close accounts rows", "error", err)
		}
	}(rows)

	snapshot := models.NewSnapshot()
	for rows.Next() {
		var acc models.Account
		if err := rows.Scan(&acc.Username, &acc.SecretHash, &acc.Balance); err != nil {
			return models.Snapshot{}, fmt.Errorf("%s: %w", op, err)
		}
		snapshot.Accounts[acc.Username] = acc
	}
	if err := rows.Err(); err != nil {
		return models.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}

	return snapshot, nil
}

// Save upserts the whole snapshot in one transaction. Accounts are never
// deleted, so rows missing from the snapshot cannot exist.
func (s *Storage) Save(ctx context.Context, snapshot models.Snapshot) (err error) {
	const op = "storage.postgres.Save"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Error("Failed to rollback snapshot", "error", rbErr)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO accounts (username, secret_hash, balance, updated_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (username) DO UPDATE SET secret_hash = EXCLUDED.secret_hash, balance = EXCLUDED.balance, updated_at = now()
	WHERE accounts.balance <> EXCLUDED.balance OR accounts.secret_hash <> EXCLUDED.secret_hash`)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	for username, acc := range snapshot.Accounts {
		if _, err = stmt.ExecContext(ctx, username, acc.SecretHash, acc.Balance.StringFixed(2)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
