package payment

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

// Normalized is the provider-neutral reading of a status response.
type Normalized struct {
	Status        models.DepositStatus
	SettledAmount *int64
}

var atlantikVocabulary = map[string]models.DepositStatus{
	"pending":    models.DepositPending,
	"processing": models.DepositPending,
	"success":    models.DepositSuccess,
	"failed":     models.DepositFailed,
	"cancel":     models.DepositFailed,
	"expired":    models.DepositExpired,
}

var pakasirVocabulary = map[string]models.DepositStatus{
	"pending":   models.DepositPending,
	"waiting":   models.DepositPending,
	"completed": models.DepositSuccess,
	"paid":      models.DepositSuccess,
	"failed":    models.DepositFailed,
	"canceled":  models.DepositFailed,
	"expired":   models.DepositExpired,
}

type atlantikStatusBody struct {
	Data struct {
		Status  string          `json:"status"`
		Nominal json.RawMessage `json:"nominal"`
	} `json:"data"`
}

type pakasirStatusBody struct {
	Transaction struct {
		Status string          `json:"status"`
		Amount json.RawMessage `json:"amount"`
	} `json:"transaction"`
}

// Normalize maps a raw status response from the named provider onto the
// canonical vocabulary. Anything it cannot read is pending, never terminal.
// SettledAmount is only set for success.
func Normalize(provider string, raw []byte) Normalized {
	var (
		word   string
		amount json.RawMessage
		vocab  map[string]models.DepositStatus
	)

	switch provider {
	case models.ProviderAtlantik:
		var body atlantikStatusBody
		if json.Unmarshal(raw, &body) != nil {
			return Normalized{Status: models.DepositPending}
		}
		word, amount, vocab = body.Data.Status, body.Data.Nominal, atlantikVocabulary
	case models.ProviderPakasir:
		var body pakasirStatusBody
		if json.Unmarshal(raw, &body) != nil {
			return Normalized{Status: models.DepositPending}
		}
		word, amount, vocab = body.Transaction.Status, body.Transaction.Amount, pakasirVocabulary
	default:
		return Normalized{Status: models.DepositPending}
	}

	status, ok := vocab[strings.ToLower(strings.TrimSpace(word))]
	if !ok {
		return Normalized{Status: models.DepositPending}
	}

	n := Normalized{Status: status}
	if status == models.DepositSuccess {
		if v, ok := parseAmount(amount); ok {
			n.SettledAmount = &v
		}
	}
	return n
}

// parseAmount accepts 50000, "50000" and 50000.0.
func parseAmount(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false
		}
	}

	if v, err := strconv.ParseInt(text, 10, 64); err == nil && v >= 0 {
		return v, true
	}
	// float64(math.MaxInt64) rounds up to 2^63, which no longer fits
	if f, err := strconv.ParseFloat(text, 64); err == nil && f >= 0 && f < math.MaxInt64 {
		return int64(f), true
	}
	return 0, false
}
