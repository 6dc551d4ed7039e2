package api

import (
	"encoding/json"
	"errors"
	"github.com/IlyasAtabaev731/banking-ledger/internal/ledger"
	"net/http"
)

const (
	outcomeOK = "ok"

	codeInvalidInput       = "invalid_input"
	codeAlreadyExists      = "already_exists"
	codeUnauthorized       = "unauthorized"
	codeSelfTransfer       = "self_transfer"
	codeSenderNotFound     = "sender_not_found"
	codeReceiverNotFound   = "receiver_not_found"
	codeInsufficientFunds  = "insufficient_funds"
	codeNotFound           = "not_found"
	codePersistenceFailure = "persistence_failure"
	codeInternal           = "internal"
)

type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// messages overrides the default message of a ledger error for one route.
type messages map[error]string

var (
	registerMessages = messages{
		ledger.ErrInvalidInput: "Username and password are required.",
	}
	balanceMessages = messages{
		ledger.ErrInvalidInput: "Username and password are required.",
		ledger.ErrNotFound:     "User account not found.",
	}
	transferMessages = messages{
		ledger.ErrInvalidInput: "Invalid transfer details. Check all fields and amount.",
		ledger.ErrUnauthorized: "Authentication failed for sender.",
	}
)

var errorTable = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{ledger.ErrInvalidInput, http.StatusBadRequest, codeInvalidInput, "Invalid input."},
	{ledger.ErrAlreadyExists, http.StatusConflict, codeAlreadyExists, "Username already exists."},
	{ledger.ErrUnauthorized, http.StatusUnauthorized, codeUnauthorized, "Authentication failed."},
	{ledger.ErrSelfTransfer, http.StatusUnprocessableEntity, codeSelfTransfer, "Cannot transfer to yourself."},
	{ledger.ErrSenderNotFound, http.StatusNotFound, codeSenderNotFound, "Sender account not found."},
	{ledger.ErrReceiverNotFound, http.StatusNotFound, codeReceiverNotFound, "Receiver account not found."},
	{ledger.ErrInsufficientFunds, http.StatusPaymentRequired, codeInsufficientFunds, "Insufficient funds."},
	{ledger.ErrNotFound, http.StatusNotFound, codeNotFound, "Account not found."},
	{ledger.ErrPersistenceFailure, http.StatusServiceUnavailable, codePersistenceFailure, "The change was applied but could not be saved."},
}

// describeErr maps a ledger error to its HTTP status, stable code and default message.
func describeErr(err error) (int, string, string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code, e.message
		}
	}
	return http.StatusInternalServerError, codeInternal, "Internal server error."
}

func httpStatusForErr(err error) int {
	status, _, _ := describeErr(err)
	return status
}

func (s *APIServer) writeLedgerErr(w http.ResponseWriter, err error, overrides messages) {
	status, code, message := describeErr(err)
	for target, m := range overrides {
		if errors.Is(err, target) {
			message = m
			break
		}
	}

	switch status {
	case http.StatusInternalServerError:
		s.logger.Error("Unexpected ledger error", "error", err)
	case http.StatusServiceUnavailable:
		s.logger.Warn("Ledger change not persisted", "error", err)
	}

	writeErr(w, status, code, message)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Message: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Bodies are a handful of short strings and one number.
const maxBodyBytes = 64 << 10

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
