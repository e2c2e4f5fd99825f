package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/okhalifa/storefront-payments/internal"
	"github.com/okhalifa/storefront-payments/internal/gateway/kashier"
	"github.com/okhalifa/storefront-payments/pkg/logger"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Webhook tooling",
	Long:  `Tools for exercising the webhook endpoint against a running server.`,
}

// webhookSendCmd signs a synthetic gateway callback with the configured
// secret and posts it, standing in for the hosted gateway during local
// development.
var webhookSendCmd = &cobra.Command{
	Use:   "send [order-number]",
	Short: "Sign and send a synthetic gateway callback",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sendWebhook(args[0])
	},
}

var (
	webhookTarget string
	webhookStatus string
	webhookAmount string
)

func sendWebhook(orderNumber string) {
	cfg, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	lg := logger.L()

	client := kashier.NewClient(kashier.Config{
		MerchantID:      cfg.Gateway.MerchantID,
		APIKey:          cfg.Gateway.APIKey,
		CheckoutBaseURL: cfg.Gateway.CheckoutBaseURL,
		DefaultCurrency: cfg.Gateway.DefaultCurrency,
	}, lg)

	payload := map[string]interface{}{
		"merchantOrderId": orderNumber,
		"transactionId":   fmt.Sprintf("TX-DEV-%d", time.Now().Unix()),
		"status":          webhookStatus,
		"amount":          json.Number(webhookAmount),
		"currency":        cfg.Gateway.DefaultCurrency,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal payload: %v\n", err)
		os.Exit(1)
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := client.SignWebhook(body, timestamp)

	req, err := http.NewRequest(http.MethodPost, webhookTarget, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(kashier.HeaderSignature, signature)
	req.Header.Set(kashier.HeaderTimestamp, timestamp)

	httpClient := &http.Client{Timeout: cfg.Gateway.RequestTimeout}
	resp, err := httpClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", internal.NewUpstreamError("webhook delivery failed", err))
		os.Exit(1)
	}
	defer resp.Body.Close()

	lg.Info("webhook delivered",
		"order_number", orderNumber,
		"status", webhookStatus,
		"response_code", resp.StatusCode)
}

func init() {
	webhookSendCmd.Flags().StringVar(&webhookTarget, "target", "http://localhost:8080/payment/webhook", "Webhook endpoint URL")
	webhookSendCmd.Flags().StringVar(&webhookStatus, "status", kashier.StatusSuccess, "Gateway status to report")
	webhookSendCmd.Flags().StringVar(&webhookAmount, "amount", "500.00", "Amount to report")

	webhookCmd.AddCommand(webhookSendCmd)
}
