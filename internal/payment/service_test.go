package payment_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	internal "github.com/okhalifa/storefront-payments/internal"
	"github.com/okhalifa/storefront-payments/internal/core/datamodel/order"
	"github.com/okhalifa/storefront-payments/internal/core/events"
	"github.com/okhalifa/storefront-payments/internal/gateway/kashier"
	paymentPkg "github.com/okhalifa/storefront-payments/internal/payment"
)

// Mock order repository for testing. Mutex-guarded because event handlers
// touch it from the bus goroutine.
type mockOrderRepository struct {
	mu         sync.Mutex
	orders     map[string]*order.Order
	getError   error
	applyError error
	applyCalls int
	refCalls   int
}

func newMockOrderRepository() *mockOrderRepository {
	return &mockOrderRepository{
		orders: make(map[string]*order.Order),
	}
}

func (m *mockOrderRepository) addOrder(orderNumber string, total decimal.Decimal) *order.Order {
	o := &order.Order{
		ID:            int64(len(m.orders) + 1),
		OrderNumber:   orderNumber,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentStatusPending,
		Currency:      "EGP",
		TotalEGP:      total,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	m.orders[orderNumber] = o
	return o
}

func (m *mockOrderRepository) orderStatus(orderNumber string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, exists := m.orders[orderNumber]; exists {
		return o.Status
	}
	return ""
}

func (m *mockOrderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getError != nil {
		return nil, m.getError
	}
	o, exists := m.orders[orderNumber]
	if !exists {
		return nil, internal.ErrOrderNotFound
	}
	copied := *o
	return &copied, nil
}

func (m *mockOrderRepository) RecordPaymentRef(ctx context.Context, orderID int64, method, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refCalls++
	for _, o := range m.orders {
		if o.ID == orderID {
			o.PaymentMethod = &method
			o.TransactionID = &transactionID
		}
	}
	return nil
}

func (m *mockOrderRepository) ApplyPaymentStatus(ctx context.Context, orderID int64, from, to, transactionID string, gatewayResponse json.RawMessage, paidAt *time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyError != nil {
		return false, m.applyError
	}
	m.applyCalls++
	for _, o := range m.orders {
		if o.ID == orderID && o.PaymentStatus == from {
			o.PaymentStatus = to
			if transactionID != "" {
				o.TransactionID = &transactionID
			}
			o.GatewayResponse = gatewayResponse
			o.PaidAt = paidAt
			return true, nil
		}
	}
	return false, nil
}

func (m *mockOrderRepository) UpdateStatus(ctx context.Context, orderID int64, from, to string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == orderID && o.Status == from {
			o.Status = to
			return true, nil
		}
	}
	return false, nil
}

// Counting gateway mock for dispatch tests
type mockGateway struct {
	buildCalls   int
	buildSession *kashier.CheckoutSession
	buildError   error
	verifyResult bool
}

func (m *mockGateway) BuildPaymentURL(params kashier.CheckoutParams) (*kashier.CheckoutSession, error) {
	m.buildCalls++
	if m.buildError != nil {
		return nil, m.buildError
	}
	return m.buildSession, nil
}

func (m *mockGateway) VerifyWebhookSignature(rawBody []byte, signature, timestamp string) bool {
	return m.verifyResult
}

func (m *mockGateway) ParseWebhookPayload(rawBody []byte) (*kashier.WebhookPayload, error) {
	var payload kashier.WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, internal.NewMalformedPayloadError(err)
	}
	return &payload, nil
}

func validRequest(method string) *paymentPkg.PaymentRequest {
	return &paymentPkg.PaymentRequest{
		OrderID:       "ORD-1",
		Amount:        decimal.RequireFromString("250.00"),
		Currency:      "EGP",
		PaymentMethod: method,
		CustomerEmail: "a@b.com",
		CustomerName:  "A",
	}
}

var _ = Describe("PaymentService", func() {
	var (
		service  *paymentPkg.PaymentService
		mockRepo *mockOrderRepository
		gateway  *mockGateway
		eventBus *events.EventBus
		logger   *slog.Logger
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		mockRepo = newMockOrderRepository()
		gateway = &mockGateway{
			buildSession: &kashier.CheckoutSession{
				PaymentURL:    "https://checkout.kashier.io/?orderId=ORD-1",
				TransactionID: "KSH-ORD-1-abc123",
			},
		}
		eventBus = events.NewEventBus(logger)
		service = paymentPkg.NewPaymentService(gateway, mockRepo, eventBus, "http://localhost:3000", logger)
	})

	Describe("InitiatePayment", func() {
		Context("with cash on delivery", func() {
			It("should return a transaction id and never call the gateway", func() {
				mockRepo.addOrder("ORD-1", decimal.RequireFromString("250.00"))

				result, err := service.InitiatePayment(ctx, validRequest(paymentPkg.MethodCOD))

				Expect(err).ToNot(HaveOccurred())
				Expect(result.TransactionID).ToNot(BeEmpty())
				Expect(result.PaymentURL).To(BeEmpty())
				Expect(gateway.buildCalls).To(Equal(0))
			})

			It("should accept a request without a currency", func() {
				mockRepo.addOrder("ORD-1", decimal.RequireFromString("250.00"))
				req := validRequest(paymentPkg.MethodCOD)
				req.Currency = ""

				result, err := service.InitiatePayment(ctx, req)

				Expect(err).ToNot(HaveOccurred())
				Expect(result.TransactionID).ToNot(BeEmpty())
			})

			It("should generate distinct transaction ids across requests", func() {
				mockRepo.addOrder("ORD-1", decimal.RequireFromString("250.00"))

				first, err := service.InitiatePayment(ctx, validRequest(paymentPkg.MethodCOD))
				Expect(err).ToNot(HaveOccurred())
				second, err := service.InitiatePayment(ctx, validRequest(paymentPkg.MethodCOD))
				Expect(err).ToNot(HaveOccurred())

				Expect(first.TransactionID).ToNot(Equal(second.TransactionID))
			})
		})

		Context("with the hosted gateway", func() {
			It("should return the checkout session from the adapter", func() {
				mockRepo.addOrder("ORD-1", decimal.RequireFromString("250.00"))

				result, err := service.InitiatePayment(ctx, validRequest(paymentPkg.MethodGateway))

				Expect(err).ToNot(HaveOccurred())
				Expect(result.PaymentURL).To(ContainSubstring("ORD-1"))
				Expect(result.TransactionID).To(Equal("KSH-ORD-1-abc123"))
				Expect(gateway.buildCalls).To(Equal(1))
			})

			It("should surface adapter failures without a fallback", func() {
				gateway.buildError = internal.NewConfigurationError("kashier merchant id and api key are required")

				result, err := service.InitiatePayment(ctx, validRequest(paymentPkg.MethodGateway))

				Expect(err).To(HaveOccurred())
				Expect(result).To(BeNil())
				appErr, ok := internal.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Type).To(Equal(internal.ErrorTypeConfiguration))
			})
		})

		Context("with an unknown payment method", func() {
			It("should reject naming the method", func() {
				result, err := service.InitiatePayment(ctx, validRequest("bank_transfer"))

				Expect(err).To(HaveOccurred())
				Expect(result).To(BeNil())
				Expect(err.Error()).To(ContainSubstring("bank_transfer"))
				Expect(gateway.buildCalls).To(Equal(0))
			})
		})

		Context("with invalid input", func() {
			It("should reject a zero amount before any external call", func() {
				req := validRequest(paymentPkg.MethodGateway)
				req.Amount = decimal.Zero

				result, err := service.InitiatePayment(ctx, req)

				Expect(err).To(HaveOccurred())
				Expect(result).To(BeNil())
				Expect(gateway.buildCalls).To(Equal(0))
				Expect(mockRepo.refCalls).To(Equal(0))
			})

			It("should reject a negative amount", func() {
				req := validRequest(paymentPkg.MethodGateway)
				req.Amount = decimal.RequireFromString("-10")

				_, err := service.InitiatePayment(ctx, req)

				Expect(err).To(HaveOccurred())
				Expect(gateway.buildCalls).To(Equal(0))
			})

			It("should reject a syntactically invalid email", func() {
				req := validRequest(paymentPkg.MethodCOD)
				req.CustomerEmail = "not-an-email"

				_, err := service.InitiatePayment(ctx, req)

				Expect(err).To(HaveOccurred())
			})

			It("should reject missing required fields", func() {
				req := &paymentPkg.PaymentRequest{PaymentMethod: paymentPkg.MethodCOD}

				_, err := service.InitiatePayment(ctx, req)

				Expect(err).To(HaveOccurred())
				appErr, ok := internal.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
			})
		})
	})

	Describe("HandleWebhook", func() {
		var (
			client    *kashier.Client
			rawBody   []byte
			signature string
			timestamp string
		)

		// Real kashier client so signatures are computed, not stubbed.
		BeforeEach(func() {
			client = kashier.NewClient(kashier.Config{
				MerchantID:      "MID-1",
				APIKey:          "test-secret",
				CheckoutBaseURL: "https://checkout.kashier.io",
				DefaultCurrency: "EGP",
			}, logger)
			service = paymentPkg.NewPaymentService(client, mockRepo, eventBus, "http://localhost:3000", logger)

			mockRepo.addOrder("ORD-1", decimal.RequireFromString("250.00"))

			rawBody = []byte(`{"merchantOrderId":"ORD-1","transactionId":"TX-9","status":"SUCCESS","amount":250.00,"currency":"EGP"}`)
			timestamp = strconv.FormatInt(time.Now().Unix(), 10)
			signature = client.SignWebhook(rawBody, timestamp)
		})

		It("should mark the order paid on a verified SUCCESS callback", func() {
			outcome := service.HandleWebhook(ctx, rawBody, signature, timestamp)

			Expect(outcome.StatusCode).To(Equal(http.StatusOK))
			Expect(mockRepo.orders["ORD-1"].PaymentStatus).To(Equal(order.PaymentStatusPaid))
			Expect(mockRepo.orders["ORD-1"].PaidAt).ToNot(BeNil())
		})

		It("should confirm fulfillment even though the request context dies with the response", func() {
			paymentPkg.NewEventHandler(mockRepo, logger).RegisterEventHandlers(eventBus)

			// net/http cancels the request context the moment the
			// handler returns; the succeeded handler must not care.
			reqCtx, cancel := context.WithCancel(context.Background())
			outcome := service.HandleWebhook(reqCtx, rawBody, signature, timestamp)
			cancel()

			Expect(outcome.StatusCode).To(Equal(http.StatusOK))
			Eventually(func() string {
				return mockRepo.orderStatus("ORD-1")
			}).Should(Equal(order.StatusConfirmed))
		})

		It("should mark the order failed on a DECLINED callback", func() {
			rawBody = []byte(`{"merchantOrderId":"ORD-1","transactionId":"TX-9","status":"DECLINED","amount":250.00,"currency":"EGP"}`)
			signature = client.SignWebhook(rawBody, timestamp)

			outcome := service.HandleWebhook(ctx, rawBody, signature, timestamp)

			Expect(outcome.StatusCode).To(Equal(http.StatusOK))
			Expect(mockRepo.orders["ORD-1"].PaymentStatus).To(Equal(order.PaymentStatusFailed))
			Expect(mockRepo.orders["ORD-1"].PaidAt).To(BeNil())
		})

		It("should be idempotent for byte-identical redelivery", func() {
			first := service.HandleWebhook(ctx, rawBody, signature, timestamp)
			Expect(first.StatusCode).To(Equal(http.StatusOK))
			callsAfterFirst := mockRepo.applyCalls

			second := service.HandleWebhook(ctx, rawBody, signature, timestamp)

			Expect(second.StatusCode).To(Equal(http.StatusOK))
			Expect(second.Message).To(Equal("already processed"))
			Expect(mockRepo.orders["ORD-1"].PaymentStatus).To(Equal(order.PaymentStatusPaid))
			// the guarded update ran but changed nothing
			Expect(mockRepo.applyCalls).To(Equal(callsAfterFirst + 1))
		})

		It("should reject a tampered body with 401 and leave the order untouched", func() {
			tampered := make([]byte, len(rawBody))
			copy(tampered, rawBody)
			tampered[len(tampered)-2] ^= 0x01

			outcome := service.HandleWebhook(ctx, tampered, signature, timestamp)

			Expect(outcome.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(outcome.Message).To(Equal("invalid signature"))
			Expect(mockRepo.orders["ORD-1"].PaymentStatus).To(Equal(order.PaymentStatusPending))
		})

		It("should reject a signature computed for a different timestamp", func() {
			outcome := service.HandleWebhook(ctx, rawBody, signature, timestamp+"1")

			Expect(outcome.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should reject an unknown gateway status on a correctly signed payload", func() {
			rawBody = []byte(`{"merchantOrderId":"ORD-1","transactionId":"TX-9","status":"MAYBE","amount":250.00,"currency":"EGP"}`)
			signature = client.SignWebhook(rawBody, timestamp)

			outcome := service.HandleWebhook(ctx, rawBody, signature, timestamp)

			Expect(outcome.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(outcome.Message).To(Equal("unknown status"))
			Expect(mockRepo.orders["ORD-1"].PaymentStatus).To(Equal(order.PaymentStatusPending))
		})

		It("should return 400 for a signed but unparsable body", func() {
			rawBody = []byte(`{"merchantOrderId":`)
			signature = client.SignWebhook(rawBody, timestamp)

			outcome := service.HandleWebhook(ctx, rawBody, signature, timestamp)

			Expect(outcome.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(outcome.Message).To(Equal("malformed payload"))
		})

		It("should return 404 for an unknown order and never create one", func() {
			rawBody = []byte(`{"merchantOrderId":"ORD-404","transactionId":"TX-9","status":"SUCCESS","amount":10,"currency":"EGP"}`)
			signature = client.SignWebhook(rawBody, timestamp)

			outcome := service.HandleWebhook(ctx, rawBody, signature, timestamp)

			Expect(outcome.StatusCode).To(Equal(http.StatusNotFound))
			Expect(mockRepo.orders).ToNot(HaveKey("ORD-404"))
		})

		It("should return 500 on persistence failure so the gateway redelivers", func() {
			mockRepo.applyError = fmt.Errorf("connection reset")

			outcome := service.HandleWebhook(ctx, rawBody, signature, timestamp)

			Expect(outcome.StatusCode).To(Equal(http.StatusInternalServerError))
			Expect(outcome.Message).To(ContainSubstring("persistence failed"))
		})

		It("should ack a conflicting terminal status without mutating it", func() {
			mockRepo.orders["ORD-1"].PaymentStatus = order.PaymentStatusFailed

			outcome := service.HandleWebhook(ctx, rawBody, signature, timestamp)

			Expect(outcome.StatusCode).To(Equal(http.StatusOK))
			Expect(outcome.Message).To(Equal("already processed"))
			Expect(mockRepo.orders["ORD-1"].PaymentStatus).To(Equal(order.PaymentStatusFailed))
		})
	})
})

var _ = Describe("EventHandler", func() {
	var (
		mockRepo *mockOrderRepository
		handler  *paymentPkg.EventHandler
		eventBus *events.EventBus
		logger   *slog.Logger
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		mockRepo = newMockOrderRepository()
		handler = paymentPkg.NewEventHandler(mockRepo, logger)
		eventBus = events.NewEventBus(logger)
		handler.RegisterEventHandlers(eventBus)
	})

	It("should confirm a pending order when payment succeeds", func() {
		o := mockRepo.addOrder("ORD-7", decimal.RequireFromString("99.90"))

		event := events.NewPaymentSucceededEvent(o.ID, o.OrderNumber, "TX-1", "99.90", "EGP")
		err := eventBus.PublishSync(ctx, event)

		Expect(err).ToNot(HaveOccurred())
		Expect(mockRepo.orders["ORD-7"].Status).To(Equal(order.StatusConfirmed))
	})

	It("should leave a cancelled order alone", func() {
		o := mockRepo.addOrder("ORD-8", decimal.RequireFromString("99.90"))
		o.Status = order.StatusCancelled

		event := events.NewPaymentSucceededEvent(o.ID, o.OrderNumber, "TX-1", "99.90", "EGP")
		err := eventBus.PublishSync(ctx, event)

		Expect(err).ToNot(HaveOccurred())
		Expect(mockRepo.orders["ORD-8"].Status).To(Equal(order.StatusCancelled))
	})

	It("should not move fulfillment on payment failure", func() {
		o := mockRepo.addOrder("ORD-9", decimal.RequireFromString("10.00"))

		event := events.NewPaymentFailedEvent(o.ID, o.OrderNumber, "TX-2", "DECLINED")
		err := eventBus.PublishSync(ctx, event)

		Expect(err).ToNot(HaveOccurred())
		Expect(mockRepo.orders["ORD-9"].Status).To(Equal(order.StatusPending))
	})
})
