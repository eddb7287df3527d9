package db

import (
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedTestData resets the database and populates it with demo users,
// matches and wallet balances.
//
// Behavior:
//  1. Clears all domain tables.
//  2. Creates 12 approved users with hashed passwords.
//  3. Matches consecutive pairs and opens a pre-chat conversation each.
//  4. Funds every user's wallet with a DEV_GRANT ledger entry.
//  5. Commits the first conversation and locks a date plan on it, so the
//     perk flow can be exercised straight away.
//
// Compatible with both MySQL and SQLite (AUTO_INCREMENT reset skipped for SQLite).
func SeedTestData(database *gorm.DB) error {
	tables := []string{
		"match_date_events", "credits", "handshake_sessions", "drink_perks",
		"date_plans", "ledger_entries", "wallets", "user_location_latests",
		"conversations", "matches", "users",
	}
	for _, t := range tables {
		if err := database.Exec("DELETE FROM " + t).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", t, err)
		}
	}

	// Reset auto-increment sequences
	switch database.Dialector.Name() {
	case "mysql":
		for _, t := range tables {
			database.Exec("ALTER TABLE " + t + " AUTO_INCREMENT = 1")
		}
	case "sqlite":
		for _, t := range tables {
			database.Exec("DELETE FROM sqlite_sequence WHERE name = ?", t)
		}
	}

	log.Println("Cleared existing data")

	// --- Seed Users ---
	for i := 1; i <= 12; i++ {
		hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		user := User{
			Username:     fmt.Sprintf("user%d", i),
			Email:        fmt.Sprintf("user%d@example.com", i),
			PasswordHash: string(hash),
			Approved:     true,
		}
		if err := database.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to seed user: %w", err)
		}
	}
	log.Println("Seeded 12 users.")

	// --- Fund wallets ---
	var users []User
	if err := database.Order("id").Find(&users).Error; err != nil {
		return err
	}
	for _, u := range users {
		entry := LedgerEntry{
			UserID:      u.ID,
			Action:      LedgerDevGrant,
			AmountCents: 9000,
			Note:        "seed grant",
		}
		if err := database.Create(&entry).Error; err != nil {
			return fmt.Errorf("failed to seed ledger entry: %w", err)
		}
		wallet := Wallet{UserID: u.ID, BalanceCents: 9000}
		if err := database.Create(&wallet).Error; err != nil {
			return fmt.Errorf("failed to seed wallet: %w", err)
		}
	}
	log.Println("Funded wallets.")

	// --- Match consecutive pairs and open conversations ---
	for i := 0; i+1 < len(users); i += 2 {
		a, b := CanonicalPair(users[i].ID, users[i+1].ID)
		match := Match{UserAID: a, UserBID: b}
		if err := database.Create(&match).Error; err != nil {
			return fmt.Errorf("failed to seed match: %w", err)
		}
		conv := Conversation{MatchID: match.ID}
		if err := database.Create(&conv).Error; err != nil {
			return fmt.Errorf("failed to seed conversation: %w", err)
		}
	}
	log.Printf("Seeded %d matches.", len(users)/2)

	// --- Commit the first conversation and lock a date plan on it ---
	var first Match
	if err := database.Order("id").First(&first).Error; err != nil {
		return err
	}

	now := time.Now().UTC()
	spend := LedgerEntry{
		UserID:      first.UserAID,
		MatchID:     &first.ID,
		Action:      LedgerSpend,
		AmountCents: -3000,
		Note:        "conversation commitment",
	}
	if err := database.Create(&spend).Error; err != nil {
		return err
	}
	if err := database.Model(&Wallet{}).
		Where("user_id = ?", first.UserAID).
		Update("balance_cents", gorm.Expr("balance_cents - ?", 3000)).Error; err != nil {
		return err
	}
	if err := database.Model(&Conversation{}).
		Where("match_id = ?", first.ID).
		Updates(map[string]any{
			"sender_user_id": first.UserAID,
			"active_at":      now,
			"deposit_cents":  3000,
		}).Error; err != nil {
		return err
	}

	start := now.Add(24 * time.Hour)
	end := start.Add(time.Hour)
	plan := DatePlan{
		MatchID:          first.ID,
		DateStatus:       DateStatusLocked,
		Cycle:            1,
		DateStart:        &start,
		DateEnd:          &end,
		ProposedByUserID: &first.UserAID,
		ActivityLabel:    "coffee",
		PlaceLabel:       "Grind, Shoreditch",
	}
	if err := database.Create(&plan).Error; err != nil {
		return err
	}
	perk := DrinkPerk{MatchID: first.ID, State: PerkArmed}
	if err := database.Create(&perk).Error; err != nil {
		return err
	}
	log.Println("Committed match 1 with a locked date plan.")

	return nil
}

// SeedMinimalTestData loads the smallest fixture set useful in tests:
// three approved users, one match with a pre-chat conversation, and a
// funded wallet for the first user.
func SeedMinimalTestData(database *gorm.DB) error {
	users := []User{
		{ID: 1, Username: "user1", Email: "u1@test.com", PasswordHash: "x", Approved: true},
		{ID: 2, Username: "user2", Email: "u2@test.com", PasswordHash: "x", Approved: true},
		{ID: 3, Username: "user3", Email: "u3@test.com", PasswordHash: "x", Approved: true},
	}
	if err := database.Create(&users).Error; err != nil {
		return err
	}

	match := Match{ID: 1, UserAID: 1, UserBID: 2}
	if err := database.Create(&match).Error; err != nil {
		return err
	}
	if err := database.Create(&Conversation{MatchID: 1}).Error; err != nil {
		return err
	}

	entry := LedgerEntry{UserID: 1, Action: LedgerDevGrant, AmountCents: 3000, Note: "seed grant"}
	if err := database.Create(&entry).Error; err != nil {
		return err
	}
	return database.Create(&Wallet{UserID: 1, BalanceCents: 3000}).Error
}
