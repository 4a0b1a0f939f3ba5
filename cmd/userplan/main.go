package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/BurakAyaz/baz-hediye-muzik/internal/adapter/repo"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/domain"
	"github.com/BurakAyaz/baz-hediye-muzik/internal/ledger"
)

// userplan grants a plan or raw credits directly from the operator's shell,
// for support cases where the payment webhook never arrived.
func main() {
	var (
		wixIDFlag   string
		emailFlag   string
		planFlag    string
		creditsFlag int
		noteFlag    string
	)

	flag.StringVar(&wixIDFlag, "wix-id", "", "wix user ID to update")
	flag.StringVar(&emailFlag, "email", "", "account email to update")
	flag.StringVar(&planFlag, "plan", "", "plan to grant (temel, uzman, pro, deneme)")
	flag.IntVar(&creditsFlag, "credits", 0, "raw credits to add instead of a plan")
	flag.StringVar(&noteFlag, "note", "manual grant", "ledger note for a raw credit grant")
	flag.Parse()

	wixID := strings.TrimSpace(wixIDFlag)
	email := strings.ToLower(strings.TrimSpace(emailFlag))
	plan := strings.ToLower(strings.TrimSpace(planFlag))

	if wixID == "" && email == "" {
		exitWithError(errors.New("either -wix-id or -email must be provided"))
	}
	if plan == "" && creditsFlag <= 0 {
		exitWithError(errors.New("either -plan or a positive -credits must be provided"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("connect database: %w", err))
	}
	defer pool.Close()

	accounts := repo.NewAccountRepository(pool)
	entries := repo.NewLedgerRepository(pool)
	engine := ledger.NewEngine(accounts, entries, zerolog.Nop())

	account, err := lookup(ctx, accounts, wixID, email)
	if err != nil {
		exitWithError(err)
	}
	previous := account.Balance

	if plan != "" {
		account, _, err = engine.Grant(ctx, account.ID, domain.PlanID(plan), domain.ActionManual, "")
	} else {
		account, _, err = engine.GrantCredits(ctx, account.ID, creditsFlag, noteFlag)
	}
	if err != nil {
		exitWithError(err)
	}

	fmt.Printf("account %s (%s)\n", account.WixUserID, account.Email)
	fmt.Printf("  plan:    %s\n", account.PlanID)
	fmt.Printf("  credits: %d -> %d\n", previous, account.Balance)
	if account.ExpiresAt != nil {
		fmt.Printf("  expires: %s\n", account.ExpiresAt.UTC().Format(time.RFC3339))
	}
}

func lookup(ctx context.Context, accounts domain.AccountRepository, wixID, email string) (*domain.Account, error) {
	if wixID != "" {
		return accounts.GetByWixID(ctx, wixID)
	}
	return accounts.GetByEmail(ctx, email)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "userplan:", err)
	os.Exit(1)
}
