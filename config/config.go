package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	BaseURL        string
	SearchQuery    string
	CategoryName   string
	MinDelaySec    int
	MaxDelaySec    int
	MaxRetries     int
	RequestTimeout int
	MaxPages       int
	MaxProducts    int

	RespectRobots        bool
	PriceHistoryOnChange bool

	JSONOutputPath string
	ChromeBin      string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "deals_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		BaseURL:        getEnv("AMAZON_BASE_URL", "https://www.amazon.com"),
		SearchQuery:    getEnv("SEARCH_QUERY", "laptop"),
		CategoryName:   getEnv("CATEGORY_NAME", ""),
		MinDelaySec:    getEnvInt("SCRAPER_MIN_DELAY", 2),
		MaxDelaySec:    getEnvInt("SCRAPER_MAX_DELAY", 5),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RequestTimeout: getEnvInt("REQUEST_TIMEOUT", 30),
		MaxPages:       getEnvInt("MAX_PAGES", 5),
		MaxProducts:    getEnvInt("MAX_PRODUCTS_PER_SESSION", 100),

		RespectRobots:        getEnvBool("RESPECT_ROBOTS", true),
		PriceHistoryOnChange: getEnvBool("PRICE_HISTORY_ON_CHANGE", false),

		JSONOutputPath: getEnv("JSON_OUTPUT_PATH", "./output/products.json"),
		ChromeBin:      getEnv("CHROME_BIN", ""),
	}

	if cfg.CategoryName == "" {
		cfg.CategoryName = titleCase(cfg.SearchQuery)
	}
	if cfg.MaxDelaySec < cfg.MinDelaySec {
		cfg.MaxDelaySec = cfg.MinDelaySec
	}

	return cfg
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// titleCase turns a search query like "gaming laptop" into "Gaming Laptop"
// for use as the default category label.
func titleCase(s string) string {
	words := strings.Fields(strings.TrimSpace(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
