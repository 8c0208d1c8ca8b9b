package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skalibog/quantbot/pkg/logger"
	"github.com/skalibog/quantbot/pkg/models"
	"go.uber.org/zap"
)

// SignedRequest выполняет подписанный вызов. Метка времени генерируется заново на каждую попытку.
// Если биржа отклонила метку времени, часы синхронизируются и запрос повторяется один раз
// с новой меткой; остальные отказы аутентификации возвращаются сразу.
func (c *BinanceClient) SignedRequest(ctx context.Context, method, path string, params url.Values, creds models.Credentials) ([]byte, error) {
	if creds.Empty() {
		return nil, ErrMissingCredentials
	}

	body, err := c.signedOnce(ctx, method, path, params, creds)
	var authErr *AuthError
	if errors.As(err, &authErr) && authErr.StaleTimestamp() {
		logger.Warn("Биржа отклонила метку времени, повтор с новой меткой",
			zap.String("path", path), zap.Int64("code", authErr.Code))
		if syncErr := c.SyncTime(ctx); syncErr != nil {
			logger.Warn("Не удалось синхронизировать время", zap.Error(syncErr))
		}
		return c.signedOnce(ctx, method, path, params, creds)
	}
	return body, err
}

func (c *BinanceClient) signedOnce(ctx context.Context, method, path string, params url.Values, creds models.Credentials) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("timestamp", strconv.FormatInt(c.timestamp(), 10))
	q.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	signed := SignQuery(q, creds.APISecret)

	endpoint := c.baseURL + path
	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+signed, nil)
	default:
		// Для POST параметры уходят телом формы
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(signed))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", creds.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа %s: %w", path, err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return nil, classify(res.StatusCode, body)
	}
	return body, nil
}

// Account возвращает балансы спотового аккаунта
func (c *BinanceClient) Account(ctx context.Context, creds models.Credentials) (*models.Account, error) {
	body, err := c.SignedRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{}, creds)
	if err != nil {
		return nil, err
	}

	var account models.Account
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("ошибка разбора аккаунта: %w", err)
	}
	return &account, nil
}

// orderResponse нужные поля ответа POST /api/v3/order
type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	Price               string `json:"price"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

// PlaceOrder размещает MARKET ордер без цены или LIMIT GTC с ценой.
// Ордер никогда не повторяется после того, как биржа его отклонила.
func (c *BinanceClient) PlaceOrder(ctx context.Context, creds models.Credentials, req models.OrderRequest) (models.OrderResult, error) {
	if creds.Empty() {
		return models.OrderResult{}, ErrMissingCredentials
	}
	side := string(req.Side)
	if req.Side != models.Buy && req.Side != models.Sell {
		return models.OrderResult{}, &OrderError{Symbol: req.Symbol, Side: side, Msg: "неизвестная сторона ордера"}
	}
	if !req.Quantity.IsPositive() {
		return models.OrderResult{}, &OrderError{Symbol: req.Symbol, Side: side, Msg: "количество должно быть положительным"}
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", side)
	params.Set("quantity", req.Quantity.String())
	// Один clientOrderId на все попытки: повтор после отказа по времени не создаст дубль
	params.Set("newClientOrderId", uuid.NewString())
	if req.Price == nil {
		params.Set("type", "MARKET")
	} else {
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", req.Price.String())
	}

	body, err := c.SignedRequest(ctx, http.MethodPost, "/api/v3/order", params, creds)
	if err != nil {
		var (
			apiErr  *APIError
			authErr *AuthError
		)
		switch {
		case errors.As(err, &apiErr):
			return models.OrderResult{}, &OrderError{Symbol: req.Symbol, Side: side, Code: apiErr.Code, Msg: apiErr.Msg, Err: err}
		case errors.As(err, &authErr):
			return models.OrderResult{}, err
		default:
			return models.OrderResult{}, &OrderError{Symbol: req.Symbol, Side: side, Err: err}
		}
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.OrderResult{}, &OrderError{Symbol: req.Symbol, Side: side, Err: fmt.Errorf("ошибка разбора ответа: %w", err)}
	}

	return models.OrderResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		ExecutedPrice: executedPrice(resp, req.Price),
		RawStatus:     resp.Status,
	}, nil
}

// executedPrice средняя цена исполнения; для неисполненного ордера цена заявки или ноль
func executedPrice(resp orderResponse, limit *decimal.Decimal) decimal.Decimal {
	qty, errQty := decimal.NewFromString(resp.ExecutedQty)
	quote, errQuote := decimal.NewFromString(resp.CummulativeQuoteQty)
	if errQty == nil && errQuote == nil && qty.IsPositive() {
		return quote.Div(qty)
	}
	if p, err := decimal.NewFromString(resp.Price); err == nil && p.IsPositive() {
		return p
	}
	if limit != nil {
		return *limit
	}
	return decimal.Zero
}
