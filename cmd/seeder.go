package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
)

var (
	clearData   bool
	seedTenant  string
	seedOrders  int
	seedUserID  string
	seedAmount  int64
	seedCurrency string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample payment orders",
	Long: `Seed the database with linked orders and payment orders (gateway ids order_seed_<tenant>_<n>)
so that signed webhook deliveries can be replayed against a development instance.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := setup()
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		dbs, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer dbs.Close()

		db := dbs.Gorm.WithContext(cmd.Context())

		if clearData {
			if err := clearSeed(db, seedTenant); err != nil {
				log.Fatalf("failed to clear seeded data: %v", err)
			}
			fmt.Println("Cleared seeded payment orders for tenant:", seedTenant)
		}

		created := 0
		for i := 1; i <= seedOrders; i++ {
			gatewayOrderID := fmt.Sprintf("order_seed_%s_%d", seedTenant, i)

			err := db.Transaction(func(tx *gorm.DB) error {
				var existing int64
				if err := tx.Model(&payment.PaymentOrder{}).Where("gateway_order_id = ?", gatewayOrderID).Count(&existing).Error; err != nil {
					return err
				}
				if existing > 0 {
					return nil
				}

				linked := &payment.LinkedOrder{PaymentStatus: "pending", Status: "created"}
				if err := tx.Create(linked).Error; err != nil {
					return fmt.Errorf("insert linked order: %w", err)
				}

				expiresAt := time.Now().UTC().Add(24 * time.Hour)
				order := &payment.PaymentOrder{
					GatewayOrderID: gatewayOrderID,
					Amount:         seedAmount * int64(i),
					Currency:       seedCurrency,
					Status:         payment.OrderStatusCreated,
					UserID:         seedUserID,
					TenantID:       seedTenant,
					LinkedOrderID:  &linked.ID,
					ExpiresAt:      &expiresAt,
				}
				res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(order)
				if res.Error != nil {
					return fmt.Errorf("insert payment order: %w", res.Error)
				}
				if res.RowsAffected > 0 {
					created++
					fmt.Printf("Seeded payment order %s (%d %s)\n", gatewayOrderID, order.Amount, order.Currency)
				}
				return nil
			})
			if err != nil {
				log.Fatalf("failed to seed %s: %v", gatewayOrderID, err)
			}
		}

		fmt.Printf("Payment orders seeded successfully (%d new)\n", created)
	},
}

func clearSeed(db *gorm.DB, tenant string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		pattern := fmt.Sprintf("order_seed_%s_%%", tenant)

		var linkedIDs []int64
		if err := tx.Model(&payment.PaymentOrder{}).
			Where("gateway_order_id LIKE ?", pattern).
			Where("linked_order_id IS NOT NULL").
			Pluck("linked_order_id", &linkedIDs).Error; err != nil {
			return err
		}

		orderIDs := tx.Model(&payment.PaymentOrder{}).Select("id").Where("gateway_order_id LIKE ?", pattern)
		txnIDs := tx.Model(&payment.PaymentTransaction{}).Select("id").Where("payment_order_id IN (?)", orderIDs)

		if err := tx.Where("payment_transaction_id IN (?)", txnIDs).Delete(&payment.PaymentRefund{}).Error; err != nil {
			return err
		}
		if err := tx.Where("payment_order_id IN (?)", orderIDs).Delete(&payment.PaymentTransaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("gateway_order_id LIKE ?", pattern).Delete(&payment.PaymentOrder{}).Error; err != nil {
			return err
		}
		if len(linkedIDs) > 0 {
			return tx.Where("id IN ?", linkedIDs).Delete(&payment.LinkedOrder{}).Error
		}
		return nil
	})
}

func init() {
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear existing seeded data before seeding")
	seedCmd.Flags().StringVar(&seedTenant, "tenant", "tenant_demo", "tenant id of the seeded orders")
	seedCmd.Flags().IntVar(&seedOrders, "orders", 5, "number of payment orders to seed")
	seedCmd.Flags().StringVar(&seedUserID, "user", "user_demo", "customer user id")
	seedCmd.Flags().Int64Var(&seedAmount, "amount", 50000, "base amount in minor units; order n is n times this")
	seedCmd.Flags().StringVar(&seedCurrency, "currency", "INR", "ISO currency code")
}
