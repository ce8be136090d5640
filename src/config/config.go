package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

var API_ENV = os.Getenv("API_ENV")

func GetDSN() string {
	DATABASE_HOST := os.Getenv("DATABASE_HOST")
	DATABASE_PORT := os.Getenv("DATABASE_PORT")
	DATABASE_SSLMODE := os.Getenv("DATABASE_SSLMODE")
	DATABASE_TIMEZONE := os.Getenv("DATABASE_TIMEZONE")
	DATABASE_USER := os.Getenv("DATABASE_USER")
	DATABASE_PASSWORD := os.Getenv("DATABASE_PASSWORD")
	DATABASE_NAME := os.Getenv("DATABASE_NAME")
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME, DATABASE_PORT, DATABASE_SSLMODE, DATABASE_TIMEZONE)
	return dsn
}

const TIME_PARSE_FORMAT = "2006-01-02 15:04:05 -07:00"

// ConfirmationTimeout is how long a reservation may sit in a pending state
// before the sweeper expires it. expires_at is fixed at creation.
func ConfirmationTimeout() time.Duration {
	return envMinutes("RESERVATION_TTL_MINUTES", 10)
}

func SweepInterval() time.Duration {
	raw := os.Getenv("SWEEP_INTERVAL_SECONDS")
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

func envMinutes(key string, fallback int) time.Duration {
	raw := os.Getenv(key)
	mins, err := strconv.Atoi(raw)
	if err != nil || mins <= 0 {
		mins = fallback
	}
	return time.Duration(mins) * time.Minute
}
