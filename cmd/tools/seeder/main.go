package main

import (
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// Development seeder: bootstraps the discount singleton and a handful of
// sample vouchers.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedDiscount(db)
	seedVouchers(db)

	log.Println("Seeding completed successfully!")
}

func seedDiscount(db *sql.DB) {
	_, err := db.Exec(`
		INSERT INTO discounts (id, auth_id, discount_percent)
		VALUES (1, 'system', 0.2)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		log.Fatalf("Failed to seed discount: %v", err)
	}
	log.Println("Discount seeded")
}

func seedVouchers(db *sql.DB) {
	worths := []int64{50, 100, 200, 500}
	for i := 0; i < 20; i++ {
		worth := worths[rand.Intn(len(worths))]
		amount := worth - worth/5
		pin := randomPin()
		_, err := db.Exec(`
			INSERT INTO vouchers (driver_id, driver_phone_number, pin, amount_bought,
				voucher_worth, discount_amount, status)
			VALUES ($1, $2, $3, $4, $5, $6, 1)
			ON CONFLICT (pin) DO NOTHING`,
			fmt.Sprintf("driver-%02d", i%5),
			fmt.Sprintf("+2547%08d", rand.Intn(100000000)),
			pin, amount, worth, worth-amount,
		)
		if err != nil {
			log.Fatalf("Failed to seed voucher %s: %v", pin, err)
		}
	}
	log.Println("Vouchers seeded")
}

func randomPin() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	const digits = "0123456789"
	b := make([]byte, 6)
	for i := 0; i < 2; i++ {
		b[i] = letters[rand.Intn(len(letters))]
	}
	for i := 2; i < 6; i++ {
		b[i] = digits[rand.Intn(len(digits))]
	}
	return string(b)
}
