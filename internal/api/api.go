package api

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/IlyasAtabaev731/banking-ledger/internal/config"
	"github.com/IlyasAtabaev731/banking-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/banking-ledger/internal/ledger"
	"github.com/IlyasAtabaev731/banking-ledger/internal/lib/jwt"
	"github.com/IlyasAtabaev731/banking-ledger/internal/metrics"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Ledger is the part of ledger.Service the HTTP layer depends on.
type Ledger interface {
	Register(ctx context.Context, username, password string) error
	Authenticate(username, password string) bool
	Balance(username, password string) (decimal.Decimal, error)
	BalanceOf(username string) (decimal.Decimal, error)
	Transfer(ctx context.Context, sender, senderPassword, receiver string, amount decimal.Decimal) (models.Transfer, error)
}

var errAmountNotNumber = errors.New("amount must be a JSON number")

type ctxKey string

const usernameKey ctxKey = "username"

type APIServer struct {
	config    *config.Config
	logger    *slog.Logger
	ledger    Ledger
	metrics   *metrics.Metrics
	server    *http.Server
	jwtSecret []byte
}

func New(config *config.Config, logger *slog.Logger, ledger Ledger, metrics *metrics.Metrics, jwtSecret []byte) *APIServer {
	s := &APIServer{
		config:  config,
		logger:  logger,
		ledger:  ledger,
		metrics: metrics,
		server: &http.Server{
			Addr:              config.ApiHost + ":" + strconv.Itoa(config.ApiPort),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		jwtSecret: jwtSecret,
	}
	s.configureRouter()
	return s
}

func (s *APIServer) Start() error {
	s.logger.Info("Starting server", slog.String("port", strconv.Itoa(s.config.ApiPort)))

	return s.server.ListenAndServe()
}

func (s *APIServer) MustStart() {
	err := s.Start()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic("Failed to start server: " + err.Error())
	}
}

func (s *APIServer) Stop(ctx context.Context) error {
	defer s.logger.Info("Server successfully stopped")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) configureRouter() {
	router := mux.NewRouter()
	router.HandleFunc("/register", s.registerHandler()).Methods("POST")
	router.HandleFunc("/login", s.loginHandler()).Methods("POST")
	router.HandleFunc("/balance", s.balanceHandler()).Methods("GET")
	router.HandleFunc("/transfer", s.transferHandler()).Methods("POST")
	router.HandleFunc("/api/balance", s.authenticate(s.tokenBalanceHandler())).Methods("GET")
	router.HandleFunc("/healthz", healthzHandler).Methods("GET")
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
	router.Use(s.accessLog)
	s.server.Handler = router
}

type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type LoginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

type BalanceResponse struct {
	Balance json.Number `json:"balance"`
}

type TransferRequest struct {
	SenderUsername   string          `json:"senderUsername"`
	SenderPassword   string          `json:"senderPassword"`
	ReceiverUsername string          `json:"receiverUsername"`
	Amount           json.RawMessage `json:"amount"`
}

type TransferResponse struct {
	Message    string `json:"message"`
	TransferID string `json:"transferId,omitempty"`
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "ok"})
}

func (s *APIServer) registerHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req CredentialsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, codeInvalidInput, "Invalid request body format.")
			return
		}

		err := s.ledger.Register(r.Context(), req.Username, req.Password)
		s.observe("register", start, err)
		if err != nil {
			s.writeLedgerErr(w, err, registerMessages)
			return
		}

		writeJSON(w, http.StatusCreated, MessageResponse{Message: "User registered successfully."})
	}
}

func (s *APIServer) loginHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req CredentialsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, codeInvalidInput, "Invalid request body format.")
			return
		}

		if req.Username == "" || req.Password == "" {
			writeErr(w, http.StatusBadRequest, codeInvalidInput, "Username and password are required.")
			return
		}

		if !s.ledger.Authenticate(req.Username, req.Password) {
			s.observe("login", start, ledger.ErrUnauthorized)
			writeErr(w, http.StatusUnauthorized, codeUnauthorized, "Invalid credentials.")
			return
		}

		token, err := jwt.NewToken(req.Username, string(s.jwtSecret), s.config.JWT.TTL)
		if err != nil {
			s.logger.Error("Failed to sign token", "error", err)
			writeErr(w, http.StatusInternalServerError, codeInternal, "Internal server error.")
			return
		}

		s.observe("login", start, nil)
		writeJSON(w, http.StatusOK, LoginResponse{Message: "Login successful.", Token: token})
	}
}

func (s *APIServer) balanceHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		query := r.URL.Query()

		balance, err := s.ledger.Balance(query.Get("username"), query.Get("password"))
		s.observe("balance", start, err)
		if err != nil {
			s.writeLedgerErr(w, err, balanceMessages)
			return
		}

		writeJSON(w, http.StatusOK, BalanceResponse{Balance: amountNumber(balance)})
	}
}

func (s *APIServer) tokenBalanceHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		username, _ := r.Context().Value(usernameKey).(string)

		balance, err := s.ledger.BalanceOf(username)
		s.observe("balance", start, err)
		if err != nil {
			s.writeLedgerErr(w, err, balanceMessages)
			return
		}

		writeJSON(w, http.StatusOK, BalanceResponse{Balance: amountNumber(balance)})
	}
}

func (s *APIServer) transferHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req TransferRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeErr(w, http.StatusBadRequest, codeInvalidInput, "Invalid request body format.")
			return
		}

		amount, err := parseAmount(req.Amount)
		if err != nil {
			writeErr(w, http.StatusBadRequest, codeInvalidInput, transferMessages[ledger.ErrInvalidInput])
			return
		}

		transfer, err := s.ledger.Transfer(r.Context(), req.SenderUsername, req.SenderPassword, req.ReceiverUsername, amount)
		s.observe("transfer", start, err)
		if err != nil {
			if transfer.ID != "" {
				w.Header().Set("X-Transfer-Id", transfer.ID)
			}
			s.writeLedgerErr(w, err, transferMessages)
			return
		}

		writeJSON(w, http.StatusOK, TransferResponse{Message: "Transfer successful.", TransferID: transfer.ID})
	}
}

func (s *APIServer) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenHeader := r.Header.Get("Authorization")
		if tokenHeader == "" {
			writeErr(w, http.StatusUnauthorized, codeUnauthorized, "Missing token.")
			return
		}

		parts := strings.Split(tokenHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeErr(w, http.StatusUnauthorized, codeUnauthorized, "Invalid token format.")
			return
		}

		username, err := jwt.Username(parts[1], string(s.jwtSecret))
		if err != nil {
			writeErr(w, http.StatusUnauthorized, codeUnauthorized, "Invalid token.")
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), usernameKey, username))
		next(w, r)
	}
}

func (s *APIServer) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		_, outcome, _ = describeErr(err)
	}
	s.metrics.Observe(operation, outcome, time.Since(start))
}

// parseAmount accepts a bare JSON number only. A missing amount parses as
// zero and is rejected by the ledger.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, nil
	}
	if raw[0] == '"' {
		return decimal.Zero, errAmountNotNumber
	}
	return decimal.NewFromString(string(raw))
}

// amountNumber renders a balance as a JSON number with cents.
func amountNumber(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}
