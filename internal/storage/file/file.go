package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/IlyasAtabaev731/banking-ledger/internal/domain/models"
	"github.com/gowebpki/jcs"
	"github.com/shopspring/decimal"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const formatVersion = 1

var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// Storage keeps the ledger snapshot in a single JSON file. Every save
// replaces the file through a rename, so readers see either the old or the
// new snapshot.
type Storage struct {
	path   string
	logger *slog.Logger
}

func New(path string, logger *slog.Logger) *Storage {
	return &Storage{path: path, logger: logger}
}

type record struct {
	Secret  string          `json:"secret"`
	Balance decimal.Decimal `json:"balance"`
}

type document struct {
	Version  int               `json:"version"`
	Checksum string            `json:"checksum"`
	Accounts map[string]record `json:"accounts"`
}

func (s *Storage) Load(ctx context.Context) (models.Snapshot, error) {
	const op = "storage.file.Load"

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("Snapshot not found, initializing with empty data", slog.String("path", s.path))
		snapshot := models.NewSnapshot()
		if err := s.Save(ctx, snapshot); err != nil {
			return models.Snapshot{}, fmt.Errorf("%s: %w", op, err)
		}
		return snapshot, nil
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.Snapshot{}, fmt.Errorf("%s: %w: %v", op, ErrCorruptSnapshot, err)
	}
	if doc.Version != formatVersion {
		return models.Snapshot{}, fmt.Errorf("%s: unsupported snapshot version %d", op, doc.Version)
	}
	if doc.Accounts == nil {
		doc.Accounts = make(map[string]record)
	}

	sum, err := checksum(doc.Accounts)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	if sum != doc.Checksum {
		return models.Snapshot{}, fmt.Errorf("%s: %w: checksum mismatch", op, ErrCorruptSnapshot)
	}

	snapshot := models.Snapshot{Accounts: make(map[string]models.Account, len(doc.Accounts))}
	for username, r := range doc.Accounts {
		snapshot.Accounts[username] = models.Account{
			Username:   username,
			SecretHash: r.Secret,
			Balance:    r.Balance,
		}
	}

	s.logger.Debug("Snapshot loaded", slog.String("path", s.path), slog.Int("accounts", len(snapshot.Accounts)))

	return snapshot, nil
}

func (s *Storage) Save(ctx context.Context, snapshot models.Snapshot) error {
	const op = "storage.file.Save"

	doc := document{
		Version:  formatVersion,
		Accounts: make(map[string]record, len(snapshot.Accounts)),
	}
	for username, acc := range snapshot.Accounts {
		doc.Accounts[username] = record{Secret: acc.SecretHash, Balance: acc.Balance}
	}

	sum, err := checksum(doc.Accounts)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	doc.Checksum = sum

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.writeAtomic(ctx, data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) writeAtomic(ctx context.Context, data []byte) error {
	dir := filepath.Dir(s.path)

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Nothing is visible to readers before the rename.
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return err
	}
	committed = true

	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			s.logger.Warn("Failed to sync snapshot directory", slog.String("error", err.Error()))
		}
		_ = d.Close()
	}

	return nil
}

// checksum hashes the RFC 8785 canonical form of the accounts, so it does
// not depend on indentation or key order in the file.
func checksum(accounts map[string]record) (string, error) {
	raw, err := json.Marshal(accounts)
	if err != nil {
		return "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
