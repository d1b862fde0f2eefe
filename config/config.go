package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	AdminEmail     string
	DatabasePath   string
	RoomTTL        time.Duration
	Redis          RedisConfig
	Call           CallConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// CallConfig holds the settings shared by every call participant.
type CallConfig struct {
	ICEServers      []webrtc.ICEServer
	OfferWait       time.Duration
	CandidateBuffer int
}

// ClientConfig configures the headless call client.
type ClientConfig struct {
	ServerURL string
	RoomID    string
	AuthToken string
	// Device tells apart several clients of the same user; the relay admits member IDs
	// of the form "<userID>" or "<userID>:<device>".
	Device      string
	Environment string
	Call        CallConfig
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		AdminEmail:     getEnv("ADMIN_EMAIL", ""),
		DatabasePath:   getEnv("DATABASE_PATH", "./data"),
		RoomTTL:        getEnvDuration("ROOM_TTL", 24*time.Hour),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Call: loadCall(),
	}
}

func LoadClient() *ClientConfig {
	return &ClientConfig{
		ServerURL:   getEnv("SERVER_URL", "ws://localhost:8080"),
		RoomID:      getEnv("ROOM_ID", ""),
		AuthToken:   getEnv("AUTH_TOKEN", ""),
		Device:      getEnv("DEVICE_NAME", ""),
		Environment: getEnv("ENVIRONMENT", "development"),
		Call:        loadCall(),
	}
}

func loadCall() CallConfig {
	return CallConfig{
		ICEServers:      parseICEServers(getEnv("ICE_SERVERS", "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302")),
		OfferWait:       getEnvDuration("CALL_OFFER_WAIT", 30*time.Second),
		CandidateBuffer: getEnvInt("CALL_CANDIDATE_BUFFER", 64),
	}
}

// parseICEServers turns a comma-separated URL list into ICE server entries.
// ICE_USERNAME and ICE_CREDENTIAL apply to every entry (TURN).
func parseICEServers(raw string) []webrtc.ICEServer {
	username := strings.TrimSpace(os.Getenv("ICE_USERNAME"))
	credential := strings.TrimSpace(os.Getenv("ICE_CREDENTIAL"))

	var servers []webrtc.ICEServer
	for _, entry := range strings.Split(raw, ",") {
		url := strings.TrimSpace(entry)
		if url == "" {
			continue
		}
		server := webrtc.ICEServer{URLs: []string{url}}
		if username != "" {
			server.Username = username
			server.Credential = credential
		}
		servers = append(servers, server)
	}
	return servers
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
