package cmd

import (
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/okhalifa/storefront-payments/internal/core/datamodel/order"
)

var clearData bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample orders",
	Long:  `Seed the database with sample pending orders for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}

		db, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: sqlDB.DB}), &gorm.Config{})
		if err != nil {
			log.Fatalf("failed to init orm: %v", err)
		}

		if clearData {
			if err := db.Exec("DELETE FROM orders WHERE order_number LIKE 'ORD-DEV-%'").Error; err != nil {
				log.Fatalf("failed to clear sample orders: %v", err)
			}
			fmt.Println("Cleared sample orders")
		}

		samples := []order.Order{
			{
				OrderNumber:   "ORD-DEV-1001",
				CustomerEmail: "laila@example.com",
				CustomerName:  "Laila Hassan",
				Currency:      "EGP",
				SubtotalEGP:   decimal.NewFromInt(450),
				ShippingEGP:   decimal.NewFromInt(50),
				TotalEGP:      decimal.NewFromInt(500),
				Status:        order.StatusPending,
				PaymentStatus: order.PaymentStatusPending,
			},
			{
				OrderNumber:   "ORD-DEV-1002",
				CustomerEmail: "youssef@example.com",
				CustomerName:  "Youssef Adel",
				Currency:      "EGP",
				SubtotalEGP:   decimal.RequireFromString("1249.50"),
				ShippingEGP:   decimal.RequireFromString("75.00"),
				TotalEGP:      decimal.RequireFromString("1324.50"),
				Status:        order.StatusPending,
				PaymentStatus: order.PaymentStatusPending,
			},
		}

		for _, sample := range samples {
			var exists int64
			db.Model(&order.Order{}).Where("order_number = ?", sample.OrderNumber).Count(&exists)
			if exists > 0 {
				fmt.Println("order already exists, skipping:", sample.OrderNumber)
				continue
			}
			if err := db.Create(&sample).Error; err != nil {
				log.Fatalf("failed to insert sample order %s: %v", sample.OrderNumber, err)
			}
			fmt.Println("Seeded order:", sample.OrderNumber)
		}
	},
}

func init() {
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear existing sample data before seeding")
}
