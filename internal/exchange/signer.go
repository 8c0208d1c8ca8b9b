package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// Sign возвращает HMAC-SHA256 подпись payload в hex
func Sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignQuery собирает каноническую строку запроса (ключи по алфавиту, значения экранированы)
// и дописывает signature последним параметром. Метка времени в подпись попадает,
// только если она есть среди params.
func SignQuery(params url.Values, secret string) string {
	canonical := params.Encode()
	signature := Sign(canonical, secret)
	if canonical == "" {
		return "signature=" + signature
	}
	return canonical + "&signature=" + signature
}
