package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/adshao/go-binance/v2/common"
)

// ErrMissingCredentials ключи не заданы; вызов не выполнялся
var ErrMissingCredentials = errors.New("не заданы API ключ и секрет")

// Коды ошибок Binance, означающие отказ в аутентификации
const (
	codeTimestampOutside = -1021
	codeBadSignature     = -1022
	codeBadAPIKey        = -2014
	codeRejectedAPIKey   = -2015
)

// MarketDataError сбой получения публичных данных. Тик следует пропустить.
type MarketDataError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *MarketDataError) Error() string {
	return fmt.Sprintf("ошибка рыночных данных (%s %s): %v", e.Op, e.Symbol, e.Err)
}

func (e *MarketDataError) Unwrap() error { return e.Err }

// Retryable рыночные ошибки всегда можно повторить на следующем тике
func (e *MarketDataError) Retryable() bool { return true }

// AuthError биржа отклонила подпись, ключ или метку времени
type AuthError struct {
	Status int
	Code   int64
	Msg    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("ошибка аутентификации: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
}

// StaleTimestamp сообщает, что отказ вызван устаревшей меткой времени
func (e *AuthError) StaleTimestamp() bool { return e.Code == codeTimestampOutside }

// APIError остальные отказы биржи на приватных вызовах
type APIError struct {
	Status int
	Code   int64
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ошибка биржи: status=%d code=%d msg=%s", e.Status, e.Code, e.Msg)
}

// OrderError биржа не приняла ордер или результат неизвестен. Автоматически не повторяется.
type OrderError struct {
	Symbol string
	Side   string
	Code   int64
	Msg    string
	Err    error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ордер %s %s отклонен: %v", e.Side, e.Symbol, e.Err)
	}
	return fmt.Sprintf("ордер %s %s отклонен: code=%d msg=%s", e.Side, e.Symbol, e.Code, e.Msg)
}

func (e *OrderError) Unwrap() error { return e.Err }

// classify переводит ответ биржи с кодом >= 400 в типизированную ошибку
func classify(status int, body []byte) error {
	apiErr := new(common.APIError)
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = truncate(string(body), 256)
	}

	switch {
	case status == http.StatusUnauthorized,
		apiErr.Code == codeTimestampOutside,
		apiErr.Code == codeBadSignature,
		apiErr.Code == codeBadAPIKey,
		apiErr.Code == codeRejectedAPIKey:
		return &AuthError{Status: status, Code: apiErr.Code, Msg: apiErr.Message}
	default:
		return &APIError{Status: status, Code: apiErr.Code, Msg: apiErr.Message}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
