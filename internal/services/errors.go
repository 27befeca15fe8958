package services

import (
	"errors"
	"fmt"

	"github.com/stealthpay/channels/internal/repositories"
	"github.com/stealthpay/channels/internal/resolver"
	"github.com/stealthpay/channels/internal/signer"
)

type ErrorKind string

const (
	KindResolution ErrorKind = "resolution"
	KindWallet     ErrorKind = "wallet"
	KindOnChain    ErrorKind = "onchain"
	KindBackend    ErrorKind = "backend"
	KindSession    ErrorKind = "session"
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindCancelled  ErrorKind = "cancelled"
	KindStore      ErrorKind = "store"
)

// Error codes returned to API clients.
const (
	CodeResolutionFailed   = "RESOLUTION_FAILED"
	CodeWalletRequired     = "WALLET_REQUIRED"
	CodeWrongNetwork       = "WRONG_NETWORK"
	CodeOnChainFailed      = "ONCHAIN_FAILED"
	CodeBackendFailed      = "BACKEND_FAILED"
	CodeSessionFailed      = "SESSION_FAILED"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeOperationCancelled = "OPERATION_CANCELLED"
	CodeStoreFailed        = "STORE_FAILED"
)

var ErrOperationCancelled = errors.New("operation cancelled")

// OpError is the error every coordinator operation returns. Msg, when set,
// is the user-facing text; Err keeps the adapter error for errors.Is/As.
type OpError struct {
	Kind ErrorKind
	Code string
	Op   string
	Msg  string
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil && e.Msg != e.Err.Error():
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind) + " error"
	}
}

func (e *OpError) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or "" when err is not an *OpError.
func KindOf(err error) ErrorKind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}

func validationErr(op, msg string) error {
	return &OpError{Kind: KindValidation, Code: CodeInvalidInput, Op: op, Msg: msg}
}

func notFoundErr(op, channelID string) error {
	return &OpError{
		Kind: KindNotFound,
		Code: CodeNotFound,
		Op:   op,
		Msg:  fmt.Sprintf("channel %s not found", channelID),
		Err:  repositories.ErrChannelNotFound,
	}
}

func resolutionErr(op string, err error) error {
	msg := "could not resolve recipient"
	switch {
	case errors.Is(err, resolver.ErrNoPaymentRecord):
		msg = resolver.ErrNoPaymentRecord.Error()
	case errors.Is(err, resolver.ErrNameNotFound):
		msg = resolver.ErrNameNotFound.Error()
	}
	return &OpError{Kind: KindResolution, Code: CodeResolutionFailed, Op: op, Msg: msg, Err: err}
}

func walletErr(op string, err error) error {
	code := CodeWalletRequired
	if errors.Is(err, signer.ErrWrongNetwork) {
		code = CodeWrongNetwork
	}
	return &OpError{Kind: KindWallet, Code: code, Op: op, Err: err}
}

func backendErr(op string, err error) error {
	return &OpError{Kind: KindBackend, Code: CodeBackendFailed, Op: op, Err: err}
}

func sessionErr(op string, err error) error {
	return &OpError{Kind: KindSession, Code: CodeSessionFailed, Op: op, Err: err}
}

func storeErr(op string, err error) error {
	return &OpError{Kind: KindStore, Code: CodeStoreFailed, Op: op, Err: err}
}

func cancelledErr(op string) error {
	return &OpError{Kind: KindCancelled, Code: CodeOperationCancelled, Op: op, Err: ErrOperationCancelled}
}
