package main

import (
	"database/sql"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// Seeds demo patients into a migrated Postgres database. Patients start with
// no bills, so their aggregates are zero and consistent with the ledger.
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

	inserted := seedPatients(db)
	log.Printf("Seeding completed: %d new patients", inserted)
}

func seedPatients(db *sql.DB) int {
	patients := []struct {
		Name    string
		Age     int
		Gender  string
		Phone   string
		Email   string
		Address string
		History string
	}{
		{"John Carter", 45, "male", "5550100001", "john.carter@example.com", "12 Elm Street, Springfield", "Hypertension"},
		{"Maria Gonzalez", 32, "female", "5550100002", "maria.g@example.com", "48 Oak Avenue, Riverside", ""},
		{"Liam O'Brien", 8, "male", "5550100003", "", "7 Birch Lane, Lakeside", "Asthma"},
		{"Aisha Khan", 27, "female", "5550100004", "aisha.khan@example.com", "301 Pine Road, Hillview", ""},
		{"Chen Wei", 61, "male", "5550100005", "chen.wei@example.com", "9 Cedar Court, Brookfield", "Type 2 diabetes"},
		{"Sofia Rossi", 54, "female", "5550100006", "", "22 Maple Drive, Fairview", "Penicillin allergy"},
		{"Noah Williams", 19, "other", "5550100007", "noah.w@example.com", "5 Willow Way, Greenfield", ""},
	}

	log.Println("Seeding patients...")
	count := 0
	for _, p := range patients {
		var email any
		if p.Email != "" {
			email = p.Email
		}
		res, err := db.Exec(`
			INSERT INTO patients (id, name, age, gender, phone, email, address, medical_history)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT DO NOTHING`,
			uuid.NewString(), p.Name, p.Age, p.Gender, p.Phone, email, p.Address, p.History)
		if err != nil {
			log.Printf("Failed to insert patient %s: %v", p.Name, err)
			continue
		}
		if n, err := res.RowsAffected(); err == nil {
			count += int(n)
		}
	}
	return count
}
