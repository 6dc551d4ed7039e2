package ledger_test

import (
	"context"
	"errors"
	"github.com/IlyasAtabaev731/banking-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/banking-ledger/internal/ledger"
	"github.com/IlyasAtabaev731/banking-ledger/internal/lib/secret"
	"github.com/IlyasAtabaev731/banking-ledger/internal/storage/file"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// ========================================================
// Fakes
// ========================================================

type memGateway struct {
	mu       sync.Mutex
	snapshot models.Snapshot
	saves    int
	loadErr  error
	saveErr  error
}

func newMemGateway() *memGateway {
	return &memGateway{snapshot: models.NewSnapshot()}
}

func (g *memGateway) Load(ctx context.Context) (models.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loadErr != nil {
		return models.Snapshot{}, g.loadErr
	}
	return copySnapshot(g.snapshot), nil
}

func (g *memGateway) Save(ctx context.Context, snapshot models.Snapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.saveErr != nil {
		return g.saveErr
	}
	g.snapshot = copySnapshot(snapshot)
	g.saves++
	return nil
}

func (g *memGateway) failSaves(err error) {
	g.mu.Lock()
	g.saveErr = err
	g.mu.Unlock()
}

func (g *memGateway) saved() models.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return copySnapshot(g.snapshot)
}

func copySnapshot(in models.Snapshot) models.Snapshot {
	out := models.NewSnapshot()
	for k, v := range in.Accounts {
		out.Accounts[k] = v
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.TransferCompleted
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.TransferCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// ========================================================
// Helpers
// ========================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T, gw ledger.Gateway, opts ...ledger.Option) *ledger.Service {
	t.Helper()
	svc, err := ledger.New(context.Background(), discardLogger(), gw, secret.NewBcrypt(bcrypt.MinCost), opts...)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	return svc
}

func mustRegister(t *testing.T, svc *ledger.Service, username, password string) {
	t.Helper()
	if err := svc.Register(context.Background(), username, password); err != nil {
		t.Fatalf("failed to register %s: %v", username, err)
	}
}

func balance(t *testing.T, svc *ledger.Service, username string) decimal.Decimal {
	t.Helper()
	b, err := svc.BalanceOf(username)
	if err != nil {
		t.Fatalf("failed to get balance of %s: %v", username, err)
	}
	return b
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func aliceAndBob(t *testing.T) (*ledger.Service, *memGateway) {
	t.Helper()
	gw := newMemGateway()
	svc := newService(t, gw)
	mustRegister(t, svc, "alice", "pw1")
	mustRegister(t, svc, "bob", "pw2")
	return svc, gw
}

// ========================================================
// Registry
// ========================================================

func TestRegisterThenAuthenticate(t *testing.T) {
	svc := newService(t, newMemGateway())

	for _, c := range []struct{ user, pass string }{
		{"alice", "pw1"},
		{"Alice", "pw1"},
		{"bob", "a much longer password with spaces"},
		{"ünïcødé", "пароль"},
	} {
		mustRegister(t, svc, c.user, c.pass)
		if !svc.Authenticate(c.user, c.pass) {
			t.Errorf("expected %q to authenticate right after registering", c.user)
		}
	}

	if svc.Authenticate("alice", "pw2") {
		t.Error("expected wrong password to fail")
	}
	if svc.Authenticate("carol", "pw1") {
		t.Error("expected unknown user to fail")
	}
	if svc.Authenticate("ALICE", "pw1") {
		t.Error("expected usernames to be case-sensitive")
	}
}

func TestDefaultStartingBalance(t *testing.T) {
	svc := newService(t, newMemGateway())
	mustRegister(t, svc, "alice", "pw1")

	if got := balance(t, svc, "alice"); !got.Equal(decimal.NewFromInt(ledger.DefaultStartingBalance)) {
		t.Errorf("expected starting balance %d, got %s", ledger.DefaultStartingBalance, got)
	}
}

func TestRegisterLongPassword(t *testing.T) {
	svc := newService(t, newMemGateway())
	long := strings.Repeat("x", 200)

	mustRegister(t, svc, "carol", long)

	if !svc.Authenticate("carol", long) {
		t.Error("expected a 200-byte password to authenticate")
	}
	if svc.Authenticate("carol", long[:72]) {
		t.Error("expected the 72-byte prefix to be rejected")
	}
	if _, err := svc.Balance("carol", long); err != nil {
		t.Errorf("expected balance with the long password, got %v", err)
	}
}

func TestRegisterSetsStartingBalanceAndPersists(t *testing.T) {
	gw := newMemGateway()
	svc := newService(t, gw, ledger.WithStartingBalance(dec("250.50")))

	mustRegister(t, svc, "alice", "pw1")

	if got := balance(t, svc, "alice"); !got.Equal(dec("250.50")) {
		t.Errorf("expected starting balance 250.50, got %s", got)
	}

	saved, ok := gw.saved().Accounts["alice"]
	if !ok {
		t.Fatal("expected alice in the saved snapshot")
	}
	if saved.SecretHash == "" || saved.SecretHash == "pw1" {
		t.Errorf("expected a hashed secret, got %q", saved.SecretHash)
	}
}

func TestRegisterRejectsEmptyFields(t *testing.T) {
	gw := newMemGateway()
	svc := newService(t, gw)

	for _, c := range []struct{ user, pass string }{
		{"", "pw"},
		{"alice", ""},
		{"", ""},
	} {
		err := svc.Register(context.Background(), c.user, c.pass)
		if !errors.Is(err, ledger.ErrInvalidInput) {
			t.Errorf("Register(%q, %q): expected ErrInvalidInput, got %v", c.user, c.pass, err)
		}
	}

	if gw.saves != 0 {
		t.Errorf("expected no saves, got %d", gw.saves)
	}
}

func TestRegisterTwiceKeepsBalance(t *testing.T) {
	svc, _ := aliceAndBob(t)

	if _, err := svc.Transfer(context.Background(), "alice", "pw1", "bob", dec("100")); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	err := svc.Register(context.Background(), "alice", "other")
	if !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	if got := balance(t, svc, "alice"); !got.Equal(dec("900")) {
		t.Errorf("expected balance 900 to be untouched, got %s", got)
	}
	if !svc.Authenticate("alice", "pw1") || svc.Authenticate("alice", "other") {
		t.Error("expected the original credentials to stay in place")
	}
}

func TestBalance(t *testing.T) {
	svc, _ := aliceAndBob(t)

	b, err := svc.Balance("alice", "pw1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !b.Equal(dec("1000")) {
		t.Errorf("expected 1000, got %s", b)
	}

	if _, err := svc.Balance("alice", "pw2"); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Balance("alice", ""); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.BalanceOf("carol"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ========================================================
// Transfers
// ========================================================

func TestTransferScenario(t *testing.T) {
	svc, gw := aliceAndBob(t)

	tr, err := svc.Transfer(context.Background(), "alice", "pw1", "bob", dec("300"))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tr.ID == "" || tr.From != "alice" || tr.To != "bob" || !tr.Amount.Equal(dec("300")) {
		t.Errorf("unexpected receipt: %+v", tr)
	}

	if got := balance(t, svc, "alice"); !got.Equal(dec("700")) {
		t.Errorf("expected alice 700, got %s", got)
	}
	if got := balance(t, svc, "bob"); !got.Equal(dec("1300")) {
		t.Errorf("expected bob 1300, got %s", got)
	}

	saved := gw.saved()
	if !saved.Accounts["alice"].Balance.Equal(dec("700")) || !saved.Accounts["bob"].Balance.Equal(dec("1300")) {
		t.Errorf("expected the saved snapshot to hold the new balances, got %+v", saved.Accounts)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	svc, _ := aliceAndBob(t)

	_, err := svc.Transfer(context.Background(), "alice", "pw1", "bob", dec("1500"))
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	if got := balance(t, svc, "alice"); !got.Equal(dec("1000")) {
		t.Errorf("expected alice unchanged, got %s", got)
	}
	if got := balance(t, svc, "bob"); !got.Equal(dec("1000")) {
		t.Errorf("expected bob unchanged, got %s", got)
	}
}

func TestTransferWholeBalance(t *testing.T) {
	svc, _ := aliceAndBob(t)

	if _, err := svc.Transfer(context.Background(), "alice", "pw1", "bob", dec("1000")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := balance(t, svc, "alice"); !got.IsZero() {
		t.Errorf("expected alice at zero, got %s", got)
	}
	if _, err := svc.Transfer(context.Background(), "alice", "pw1", "bob", dec("0.01")); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds on an empty account, got %v", err)
	}
}

func TestTransferWithSomeoneElsesUsername(t *testing.T) {
	svc, _ := aliceAndBob(t)

	_, err := svc.Transfer(context.Background(), "bob", "pw1", "alice", dec("10"))
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSelfTransferAlwaysRejected(t *testing.T) {
	svc, _ := aliceAndBob(t)

	for _, amount := range []string{"1", "1000", "999999"} {
		_, err := svc.Transfer(context.Background(), "alice", "pw1", "alice", dec(amount))
		if !errors.Is(err, ledger.ErrSelfTransfer) {
			t.Errorf("amount %s: expected ErrSelfTransfer, got %v", amount, err)
		}
	}
	if got := balance(t, svc, "alice"); !got.Equal(dec("1000")) {
		t.Errorf("expected alice unchanged, got %s", got)
	}
}

func TestTransferValidationOrder(t *testing.T) {
	svc, _ := aliceAndBob(t)

	cases := []struct {
		name     string
		sender   string
		password string
		receiver string
		amount   string
		want     error
	}{
		{"zero amount beats bad password", "alice", "wrong", "bob", "0", ledger.ErrInvalidInput},
		{"negative amount", "alice", "pw1", "bob", "-5", ledger.ErrInvalidInput},
		{"sub-cent amount", "alice", "pw1", "bob", "0.001", ledger.ErrInvalidInput},
		{"missing receiver", "alice", "pw1", "", "10", ledger.ErrInvalidInput},
		{"missing password", "alice", "", "bob", "10", ledger.ErrInvalidInput},
		{"bad password beats self transfer", "alice", "wrong", "alice", "10", ledger.ErrUnauthorized},
		{"unknown sender is unauthorized", "carol", "pw1", "bob", "10", ledger.ErrUnauthorized},
		{"self transfer beats insufficient funds", "alice", "pw1", "alice", "5000", ledger.ErrSelfTransfer},
		{"unknown receiver beats insufficient funds", "alice", "pw1", "carol", "5000", ledger.ErrReceiverNotFound},
		{"insufficient funds", "alice", "pw1", "bob", "1000.01", ledger.ErrInsufficientFunds},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Transfer(context.Background(), tc.sender, tc.password, tc.receiver, dec(tc.amount))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if got := balance(t, svc, "alice"); !got.Equal(dec("1000")) {
		t.Errorf("expected alice unchanged after failed transfers, got %s", got)
	}
	if got := balance(t, svc, "bob"); !got.Equal(dec("1000")) {
		t.Errorf("expected bob unchanged after failed transfers, got %s", got)
	}
}

func TestValidAmount(t *testing.T) {
	cases := []struct {
		amount string
		want   bool
	}{
		{"300", true},
		{"0.01", true},
		{"12.5", true},
		{"300.000000", true},
		{"1.50e-0", true},
		{"3e2", true},
		{"999999999999999999.99", true},
		{"0", false},
		{"-1", false},
		{"0.001", false},
		{"1.005", false},
		{"1e18", false},
		{"9999999999999999999", false},
		{"1e-20000000", false},
		{"1e20000000", false},
		{"100e-20000000", false},
		{"1.000000000000000000000", false},
	}

	for _, tc := range cases {
		if got := ledger.ValidAmount(dec(tc.amount)); got != tc.want {
			t.Errorf("ValidAmount(%s): expected %v, got %v", tc.amount, tc.want, got)
		}
	}
}

func TestTransferRejectsExtremeExponentsQuickly(t *testing.T) {
	svc, _ := aliceAndBob(t)

	cases := []struct {
		name     string
		password string
		amount   string
	}{
		{"tiny amount unauthenticated", "wrong", "1e-20000000"},
		{"tiny amount", "pw1", "1e-20000000"},
		{"huge amount", "pw1", "1e20000000"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start := time.Now()
			_, err := svc.Transfer(context.Background(), "alice", tc.password, "bob", dec(tc.amount))
			if !errors.Is(err, ledger.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if took := time.Since(start); took > time.Second {
				t.Errorf("expected a fast rejection, took %s", took)
			}
		})
	}
}

func TestTransferNormalizesTrailingZeros(t *testing.T) {
	svc, _ := aliceAndBob(t)

	transfer, err := svc.Transfer(context.Background(), "alice", "pw1", "bob", dec("2.5000000"))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if transfer.Amount.String() != "2.5" {
		t.Errorf("expected amount 2.5 on the receipt, got %s", transfer.Amount)
	}
	if got := balance(t, svc, "bob"); !got.Equal(dec("1002.50")) {
		t.Errorf("expected bob 1002.50, got %s", got)
	}
}

func TestTransferConservesFundsExactly(t *testing.T) {
	svc, _ := aliceAndBob(t)

	// 0.1 + 0.2 style amounts drift with floats.
	for i := 0; i < 30; i++ {
		if _, err := svc.Transfer(context.Background(), "alice", "pw1", "bob", dec("0.10")); err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
		if _, err := svc.Transfer(context.Background(), "bob", "pw2", "alice", dec("0.20")); err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
	}

	if got := balance(t, svc, "alice"); !got.Equal(dec("1003")) {
		t.Errorf("expected alice 1003.00, got %s", got)
	}
	if got := balance(t, svc, "bob"); !got.Equal(dec("997")) {
		t.Errorf("expected bob 997.00, got %s", got)
	}
}

func TestTransferConservation(t *testing.T) {
	svc, _ := aliceAndBob(t)

	for _, amount := range []string{"0.01", "12.34", "100", "250.5", "5000"} {
		a := dec(amount)
		beforeA, beforeB := balance(t, svc, "alice"), balance(t, svc, "bob")

		_, err := svc.Transfer(context.Background(), "alice", "pw1", "bob", a)

		afterA, afterB := balance(t, svc, "alice"), balance(t, svc, "bob")
		if afterA.IsNegative() || afterB.IsNegative() {
			t.Fatalf("negative balance after transfer of %s: %s / %s", amount, afterA, afterB)
		}
		if err != nil {
			if !afterA.Equal(beforeA) || !afterB.Equal(beforeB) {
				t.Errorf("failed transfer of %s changed balances", amount)
			}
			continue
		}
		if !afterA.Add(afterB).Equal(beforeA.Add(beforeB)) {
			t.Errorf("transfer of %s did not conserve the total", amount)
		}
		if !afterB.Sub(beforeB).Equal(a) || !beforeA.Sub(afterA).Equal(a) {
			t.Errorf("transfer of %s moved the wrong amount", amount)
		}
	}
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	svc, _ := aliceAndBob(t)
	mustRegister(t, svc, "carol", "pw3")

	users := []struct{ name, pass string }{{"alice", "pw1"}, {"bob", "pw2"}, {"carol", "pw3"}}

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := users[i%3]
			to := users[(i+1)%3]
			_, err := svc.Transfer(context.Background(), from.name, from.pass, to.name, dec("400"))
			if err != nil && !errors.Is(err, ledger.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	total := decimal.Zero
	for _, u := range users {
		b := balance(t, svc, u.name)
		if b.IsNegative() {
			t.Errorf("%s went negative: %s", u.name, b)
		}
		total = total.Add(b)
	}
	if !total.Equal(dec("3000")) {
		t.Errorf("expected total 3000, got %s", total)
	}
}

func TestTransferPublishesEvent(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newService(t, newMemGateway(), ledger.WithPublisher(pub))
	mustRegister(t, svc, "alice", "pw1")
	mustRegister(t, svc, "bob", "pw2")

	tr, err := svc.Transfer(context.Background(), "alice", "pw1", "bob", dec("42.50"))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := svc.Transfer(context.Background(), "alice", "pw1", "bob", dec("5000")); err == nil {
		t.Fatal("expected the second transfer to fail")
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.TransferID != tr.ID || ev.From != "alice" || ev.To != "bob" || !ev.Amount.Equal(dec("42.5")) {
		t.Errorf("unexpected event: %+v", ev)
	}
}

// ========================================================
// Persistence
// ========================================================

func TestNewFailsWhenLoadFails(t *testing.T) {
	gw := newMemGateway()
	gw.loadErr = errors.New("disk on fire")

	_, err := ledger.New(context.Background(), discardLogger(), gw, secret.NewBcrypt(bcrypt.MinCost))
	if err == nil {
		t.Fatal("expected New to fail")
	}
}

func TestNewRejectsNegativeBalanceInSnapshot(t *testing.T) {
	gw := newMemGateway()
	gw.snapshot.Accounts["alice"] = models.Account{Username: "alice", SecretHash: "x", Balance: dec("-0.01")}

	_, err := ledger.New(context.Background(), discardLogger(), gw, secret.NewBcrypt(bcrypt.MinCost))
	if err == nil {
		t.Fatal("expected New to refuse a negative balance")
	}
}

func TestSaveFailureIsReported(t *testing.T) {
	svc, gw := aliceAndBob(t)
	gw.failSaves(errors.New("disk full"))

	tr, err := svc.Transfer(context.Background(), "alice", "pw1", "bob", dec("300"))
	if !errors.Is(err, ledger.ErrPersistenceFailure) {
		t.Fatalf("expected ErrPersistenceFailure, got %v", err)
	}
	var perr *ledger.PersistenceError
	if !errors.As(err, &perr) || !perr.Applied {
		t.Fatalf("expected an applied PersistenceError, got %#v", err)
	}
	if tr.ID == "" {
		t.Error("expected the receipt of the applied transfer")
	}
	if !svc.Dirty() {
		t.Error("expected the ledger to be marked dirty")
	}

	// Durable state lags behind memory until a save succeeds.
	if got := gw.saved().Accounts["alice"].Balance; !got.Equal(dec("1000")) {
		t.Errorf("expected durable alice to be 1000, got %s", got)
	}

	gw.failSaves(nil)
	if err := svc.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if svc.Dirty() {
		t.Error("expected the ledger to be clean after sync")
	}
	if got := gw.saved().Accounts["alice"].Balance; !got.Equal(dec("700")) {
		t.Errorf("expected durable alice to be 700, got %s", got)
	}
}

func TestSaveTimeoutIsAFailure(t *testing.T) {
	gw := &blockingGateway{memGateway: newMemGateway()}
	svc := newService(t, gw, ledger.WithSaveTimeout(10*time.Millisecond))

	err := svc.Register(context.Background(), "alice", "pw1")
	if !errors.Is(err, ledger.ErrPersistenceFailure) {
		t.Fatalf("expected ErrPersistenceFailure, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the deadline to be part of the error, got %v", err)
	}
}

type blockingGateway struct {
	*memGateway
}

func (g *blockingGateway) Save(ctx context.Context, snapshot models.Snapshot) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSyncIsNoopWhenClean(t *testing.T) {
	svc, gw := aliceAndBob(t)
	saves := gw.saves

	if err := svc.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if gw.saves != saves {
		t.Errorf("expected no extra save, got %d", gw.saves-saves)
	}
}

func TestRestartRestoresState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	ctx := context.Background()

	gw := file.New(path, discardLogger())
	svc := newService(t, gw)
	mustRegister(t, svc, "alice", "pw1")
	mustRegister(t, svc, "bob", "pw2")
	if _, err := svc.Transfer(ctx, "alice", "pw1", "bob", dec("300.25")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	before := svc.Snapshot()

	restarted := newService(t, file.New(path, discardLogger()))
	after := restarted.Snapshot()

	if len(after.Accounts) != len(before.Accounts) {
		t.Fatalf("expected %d accounts, got %d", len(before.Accounts), len(after.Accounts))
	}
	for name, acc := range before.Accounts {
		got := after.Accounts[name]
		if got.SecretHash != acc.SecretHash || !got.Balance.Equal(acc.Balance) {
			t.Errorf("%s: expected %+v, got %+v", name, acc, got)
		}
	}

	if _, err := restarted.Transfer(ctx, "bob", "pw2", "alice", dec("0.25")); err != nil {
		t.Fatalf("transfer after restart: %v", err)
	}
	if got := balance(t, restarted, "alice"); !got.Equal(dec("700")) {
		t.Errorf("expected alice 700 after restart, got %s", got)
	}
}
