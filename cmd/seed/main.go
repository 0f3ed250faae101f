package main

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/velora-atelier/api/internal/config"
	"github.com/velora-atelier/api/internal/database"
	"github.com/velora-atelier/api/internal/enum"
)

// Seeds an admin account and a few catalog products for local development.
func main() {
	cfg := config.Load()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: connect to database: %v", err)
	}
	defer pool.Close()

	queries := database.New(pool)

	hash, err := bcrypt.GenerateFromPassword([]byte("admin12345"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("FATAL: hash password: %v", err)
	}

	admin, err := queries.CreateUser(ctx, database.CreateUserParams{
		Email:        "admin@velora-atelier.test",
		PasswordHash: string(hash),
		FullName:     "Atelier Admin",
		Role:         enum.UserRoleAdmin,
	})
	if err != nil {
		log.Printf("WARN: create admin (may already exist): %v", err)
	} else {
		log.Printf("INFO: created admin %s", admin.Email)
	}

	products := []database.CreateProductParams{
		{
			Name:         "Silk Wrap Dress",
			Description:  text("Bias-cut silk wrap dress in midnight navy."),
			Category:     text("dresses"),
			Price:        numeric("289.00"),
			CountInStock: 12,
			Sizes:        []string{"XS", "S", "M", "L"},
			Colors:       []string{"navy", "ivory"},
		},
		{
			Name:         "Tailored Wool Blazer",
			Description:  text("Single-breasted blazer in Italian wool."),
			Category:     text("outerwear"),
			Price:        numeric("445.00"),
			CountInStock: 8,
			Sizes:        []string{"S", "M", "L", "XL"},
			Colors:       []string{"charcoal", "camel"},
		},
		{
			Name:         "Linen Palazzo Trousers",
			Description:  text("High-waisted wide-leg trousers in washed linen."),
			Category:     text("trousers"),
			Price:        numeric("168.00"),
			CountInStock: 20,
			Sizes:        []string{"XS", "S", "M", "L", "XL"},
			Colors:       []string{"sand", "black", "sage"},
		},
	}

	for _, p := range products {
		created, err := queries.CreateProduct(ctx, p)
		if err != nil {
			log.Printf("WARN: create product %q: %v", p.Name, err)
			continue
		}
		log.Printf("INFO: created product %s (%s)", created.Name, created.ID)
	}
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}

func numeric(s string) pgtype.Numeric {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("FATAL: bad seed price %q: %v", s, err)
	}
	var n pgtype.Numeric
	if err := n.Scan(d.StringFixed(2)); err != nil {
		log.Fatalf("FATAL: convert seed price %q: %v", s, err)
	}
	return n
}
