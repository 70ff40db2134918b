package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-receipts/internal/app"
	"github.com/odyssey-erp/odyssey-receipts/internal/platform/db"
	"github.com/odyssey-erp/odyssey-receipts/internal/receipts"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	days := getint("SEED_DAYS", 7)
	start := time.Now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	fmt.Println("→ Seeding branches...")
	if err := seedBranches(ctx, pool); err != nil {
		log.Fatalf("seed branches: %v", err)
	}
	fmt.Println("→ Seeding source transactions...")
	n, err := seedSources(ctx, pool, start, days)
	if err != nil {
		log.Fatalf("seed sources: %v", err)
	}
	fmt.Printf("✓ Seeded %d pending sources at %s\n", n, time.Now().Format(time.RFC3339))
}

// =============================================================================
// BRANCHES
// =============================================================================

var branches = []struct {
	Code string
	Name string
}{
	{"HQ", "Head office"},
	{"BKK", "Bangkok"},
	{"CNX", "Chiang Mai"},
}

func seedBranches(ctx context.Context, pool *pgxpool.Pool) error {
	batch := &pgx.Batch{}
	for _, b := range branches {
		batch.Queue(`INSERT INTO branches (code, name) VALUES ($1, $2) ON CONFLICT (code) DO NOTHING`, b.Code, b.Name)
	}
	return pool.SendBatch(ctx, batch).Close()
}

// =============================================================================
// SOURCE TRANSACTIONS
// =============================================================================

type sourceTemplate struct {
	Reason          string
	Direction       receipts.Direction
	PaymentMethod   string
	PaymentReceived *bool
	CustomerType    string
	Customer        receipts.CustomerInfo
	Amount          string
	WithItems       bool
	Contract        bool
	Original        bool
	Debt            bool
}

func boolPtr(v bool) *bool { return &v }

var templates = []sourceTemplate{
	{Reason: receipts.ReasonPOSSale, Direction: receipts.DirectionOut, PaymentMethod: "cash", Amount: "1070.00", WithItems: true},
	{Reason: receipts.ReasonCashSale, Direction: receipts.DirectionOut, PaymentMethod: "transfer", Amount: "2140.00", Customer: receipts.CustomerInfo{FirstName: "Somchai", LastName: "Jaidee"}},
	{Reason: receipts.ReasonCreditSale, Direction: receipts.DirectionOut, PaymentMethod: "credit", PaymentReceived: boolPtr(false), CustomerType: "corporate", Customer: receipts.CustomerInfo{CompanyName: "Siam Traders"}, Amount: "5350.00"},
	{Reason: receipts.ReasonDebtPayment, Direction: receipts.DirectionIn, PaymentMethod: "transfer", Amount: "3000.00", Debt: true},
	{Reason: receipts.ReasonDeposit, Direction: receipts.DirectionIn, PaymentMethod: "cash", Amount: "500.00"},
	{Reason: receipts.ReasonReturn, Direction: receipts.DirectionIn, PaymentMethod: "cash", Amount: "-214.00", Original: true},
	{Reason: receipts.ReasonInstallment, Direction: receipts.DirectionOut, PaymentMethod: "cash", Amount: "1500.00", Contract: true},
	{Reason: receipts.ReasonService, Direction: receipts.DirectionOut, PaymentMethod: "cash", Amount: "350.00"},
}

func seedSources(ctx context.Context, pool *pgxpool.Pool, start time.Time, days int) (int, error) {
	batch := &pgx.Batch{}
	count := 0
	for day := 0; day < days; day++ {
		for bi, b := range branches {
			for ti, tpl := range templates {
				count++
				at := start.AddDate(0, 0, day).Add(time.Duration(9+ti) * time.Hour).Add(time.Duration(bi) * time.Minute)
				invoice := fmt.Sprintf("INV-%s-%s-%02d", b.Code, at.Format("060102"), ti+1)
				total := decimal.RequireFromString(tpl.Amount)
				net := total.Div(decimal.NewFromFloat(1.07)).Round(2)

				customer, err := json.Marshal(tpl.Customer)
				if err != nil {
					return 0, err
				}
				items := []byte("[]")
				if tpl.WithItems {
					items, err = json.Marshal([]receipts.Item{{Name: "Phone case", SKU: "PC-01", Qty: decimal.NewFromInt(2), Price: net.Div(decimal.NewFromInt(2)).Round(2)}})
					if err != nil {
						return 0, err
					}
				}
				var contract, original string
				debt := []string{}
				if tpl.Contract {
					contract = fmt.Sprintf("C-%s-%d", b.Code, day+1)
				}
				if tpl.Original {
					original = fmt.Sprintf("INV-%s-%s-01", b.Code, at.Format("060102"))
				}
				if tpl.Debt {
					debt = []string{fmt.Sprintf("INV-%s-%s-03", b.Code, at.Format("060102"))}
					invoice = ""
				}
				batch.Queue(`INSERT INTO source_transactions (
					branch_code, direction, reason, payment_method, payment_received, total_amount, net_amount, tax_amount,
					invoice_number, contract_number, original_invoice, debt_invoices, customer_type, customer, items, performed_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
					b.Code, string(tpl.Direction), tpl.Reason, tpl.PaymentMethod, tpl.PaymentReceived, total, net, total.Sub(net),
					invoice, contract, original, debt, tpl.CustomerType, customer, items, at)
			}
		}
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return 0, err
	}
	return count, nil
}

func getint(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
