package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Database settings are only required when the
// parking state is kept in MySQL.
type Config struct {
	Env            string // application environment (e.g. "dev", "prod")
	Port           string // HTTP port to listen on
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token time‑to‑live in minutes
	RefreshTTLDays int    // refresh token time‑to‑live in days
	BcryptCost     int    // bcrypt cost for password hashing
	AMQPURL        string // RabbitMQ URL; empty disables event publishing
	MetricsEnabled bool   // expose /metrics and collect counters

	Parking ParkingConfig
}

// LoadDotEnv reads a .env file from the working directory when one exists.
// Variables already present in the environment win.
func LoadDotEnv() {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded .env")
	}
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	LoadDotEnv()
	parking, err := LoadParkingConfig()
	if err != nil {
		log.Fatalf("parking config: %v", err)
	}
	c := Config{
		Env:            envStr("APP_ENV", "dev"),               // environment (dev/test/prod)
		Port:           envStr("APP_PORT", "8080"),             // port to bind the HTTP server
		JWTSecret:      must("JWT_SECRET"),                     // secret used for signing JWTs
		AccessTTLMin:   envInt("ACCESS_TOKEN_TTL_MIN", 15),     // TTL for access tokens in minutes
		RefreshTTLDays: envInt("REFRESH_TOKEN_TTL_DAYS", 7),    // TTL for refresh tokens in days
		BcryptCost:     envInt("BCRYPT_COST", 10),              // bcrypt cost factor
		AMQPURL:        amqpURL(),                              // broker for lifecycle events
		MetricsEnabled: envBool("METRICS_ENABLED", true),
		Parking:        parking,
	}
	if parking.Store == StoreMySQL {
		c.DBUser = must("DB_USER")
		c.DBPass = os.Getenv("DB_PASS") // empty allowed
		c.DBHost = must("DB_HOST")
		c.DBPort = must("DB_PORT")
		c.DBName = must("DB_NAME")
	}
	return c
}

// amqpURL returns RABBITMQ_URL, falling back to AMQP_URL.  Publishing is
// disabled when both are empty or set to "off".
func amqpURL() string {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		url = os.Getenv("AMQP_URL")
	}
	if url == "off" {
		return ""
	}
	return url
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
