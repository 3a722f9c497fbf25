package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv    string
	APIBaseURL string
	JWTSecret  string
	InstanceID string
	Database   DatabaseConfig
	Agent      AgentConfig
	HubAddr    string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool
}

// AgentConfig holds background network agent configuration
type AgentConfig struct {
	ListenAddr string
	BridgeURL  string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	apiBaseURL := os.Getenv("API_BASE_URL")
	if apiBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}

	return &Config{
		NodeEnv:    getEnv("NODE_ENV", "development"),
		APIBaseURL: apiBaseURL,
		JWTSecret:  os.Getenv("JWT_SECRET"),
		InstanceID: os.Getenv("INSTANCE_ID"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "fieldsync"),
			Alter:    getEnv("DB_ALTER", "false") == "true",
		},
		Agent: AgentConfig{
			ListenAddr: getEnv("AGENT_LISTEN_ADDR", "127.0.0.1:3100"),
			BridgeURL:  getEnv("AGENT_BRIDGE_URL", "ws://127.0.0.1:3001/bridge"),
		},
		HubAddr: getEnv("HUB_ADDR", "127.0.0.1:3001"),
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
