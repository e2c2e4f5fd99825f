package kashier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/shopspring/decimal"

	errors "github.com/okhalifa/storefront-payments/internal"
)

// Webhook headers. The signature is transmitted out-of-band so the body can
// be verified byte-for-byte as received.
const (
	HeaderSignature = "X-Kashier-Signature"
	HeaderTimestamp = "X-Kashier-Timestamp"
)

// Gateway-side payment outcomes as they appear in callbacks.
const (
	StatusSuccess  = "SUCCESS"
	StatusFailed   = "FAILED"
	StatusDeclined = "DECLINED"
)

type Config struct {
	MerchantID      string
	APIKey          string
	CheckoutBaseURL string
	DefaultCurrency string
}

// Client isolates all knowledge of the Kashier hosted-checkout wire format:
// the canonical order hash, the redirect URL shape, and the callback signing
// scheme. Credentials are injected once at construction.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
	}
}

type CheckoutParams struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	RedirectURL string
}

type CheckoutSession struct {
	PaymentURL    string
	TransactionID string
}

// WebhookPayload is the decoded callback body. It stays untrusted until the
// raw bytes it was decoded from pass signature verification.
type WebhookPayload struct {
	MerchantOrderID string          `json:"merchantOrderId"`
	TransactionID   string          `json:"transactionId"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

// FormatAmount renders an amount exactly as the gateway signs it: two decimal
// digits, no thousands separator. 100, 100.0 and 100.00 all produce "100.00".
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// BuildPaymentURL constructs the hosted-checkout redirect URL. The order hash
// is an HMAC-SHA256 over the canonical dotted path
// "/?payment=<merchantId>.<orderId>.<amount>.<currency>" keyed with the API
// key; any drift between this formatting and the gateway's breaks checkout,
// which is why FormatAmount is the single source of the amount string.
func (c *Client) BuildPaymentURL(params CheckoutParams) (*CheckoutSession, error) {
	if c.cfg.MerchantID == "" || c.cfg.APIKey == "" {
		return nil, errors.NewConfigurationError("kashier merchant id and api key are required")
	}

	if params.OrderID == "" {
		return nil, errors.NewValidationFieldError("orderId", "orderId is required", errors.ErrCodeValidationFailed)
	}
	if params.Amount.Sign() <= 0 {
		return nil, errors.NewValidationFieldError("amount", "amount must be greater than zero", errors.ErrCodeInvalidAmount)
	}

	currency := params.Currency
	if currency == "" {
		currency = c.cfg.DefaultCurrency
	}

	amount := FormatAmount(params.Amount)
	hash := c.orderHash(params.OrderID, amount, currency)

	q := url.Values{}
	q.Set("merchantId", c.cfg.MerchantID)
	q.Set("orderId", params.OrderID)
	q.Set("amount", amount)
	q.Set("currency", currency)
	q.Set("hash", hash)
	q.Set("display", "en")
	if params.RedirectURL != "" {
		q.Set("merchantRedirect", params.RedirectURL)
	}

	session := &CheckoutSession{
		PaymentURL:    fmt.Sprintf("%s/?%s", c.cfg.CheckoutBaseURL, q.Encode()),
		TransactionID: transactionRef(params.OrderID, hash),
	}

	c.logger.Info("built kashier checkout url",
		"order_id", params.OrderID,
		"amount", amount,
		"currency", currency,
		"transaction_id", session.TransactionID)

	return session, nil
}

func (c *Client) orderHash(orderID, amount, currency string) string {
	path := fmt.Sprintf("/?payment=%s.%s.%s.%s", c.cfg.MerchantID, orderID, amount, currency)
	mac := hmac.New(sha256.New, []byte(c.cfg.APIKey))
	mac.Write([]byte(path))
	return hex.EncodeToString(mac.Sum(nil))
}

// transactionRef derives a stable, gateway-correlatable reference from the
// order id and its signed hash.
func transactionRef(orderID, hash string) string {
	return fmt.Sprintf("KSH-%s-%s", orderID, hash[:12])
}

// VerifyWebhookSignature recomputes the expected signature over the raw body
// bytes plus timestamp and compares in constant time. It must operate on the
// body exactly as received: re-serializing a parsed object can reorder keys
// or drop whitespace and silently break verification.
func (c *Client) VerifyWebhookSignature(rawBody []byte, signature, timestamp string) bool {
	if signature == "" || timestamp == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(c.cfg.APIKey))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

// SignWebhook produces the signature header value for a body and timestamp.
// Used by the dev webhook sender and by tests; Kashier computes the same on
// its side.
func (c *Client) SignWebhook(rawBody []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.APIKey))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhookPayload decodes a callback body. Encoding problems are the only
// failure here; semantically unexpected fields are the orchestrator's call.
func (c *Client) ParseWebhookPayload(rawBody []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, errors.NewMalformedPayloadError(err)
	}
	if payload.MerchantOrderID == "" {
		return nil, errors.NewMalformedPayloadError(fmt.Errorf("missing merchantOrderId"))
	}
	return &payload, nil
}
