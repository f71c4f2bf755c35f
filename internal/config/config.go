package config

import (
	"os"
	"strings"
)

type Config struct {
	HTTPAddr string

	DBDriver string // sqlite | postgres
	DBDSN    string

	AuthHMACSecret string
	AdminUser      string
	AdminPassHash  string // bcrypt

	NotifyDriver string // log | kafka
	KafkaBrokers []string
	KafkaTopic   string

	// ReviewNotify lists the admin recipients of the quorum
	// "ready for review" signal.
	ReviewNotify []string

	CORSOrigins []string
	LogDev      bool
}

func FromEnv() Config {
	return Config{
		HTTPAddr:       envOr("HTTP_ADDR", ":8080"),
		DBDriver:       envOr("DB_DRIVER", "sqlite"),
		DBDSN:          envOr("DB_DSN", ""),
		AuthHMACSecret: envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		AdminUser:      envOr("ADMIN_USER", "admin"),
		AdminPassHash:  envOr("ADMIN_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"),
		NotifyDriver:   envOr("NOTIFY_DRIVER", "log"),
		KafkaBrokers:   csvOr("KAFKA_BROKERS", "localhost:9092"),
		KafkaTopic:     envOr("KAFKA_TOPIC", "grade-notifications"),
		ReviewNotify:   csvOr("REVIEW_NOTIFY", "admin"),
		CORSOrigins:    csvOr("CORS_ORIGINS", "http://localhost:3000"),
		LogDev:         envBool("LOG_DEV", false),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
