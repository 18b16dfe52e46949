package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Init wires viper to the .env file and the process environment and checks
// the settings the service cannot run without. Missing credentials are a
// startup failure, never a per-request one.
func Init() error {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig() // optional; env vars alone are fine in production

	bindings := map[string]string{
		"database.host":              "DATABASE_HOST",
		"database.port":              "DATABASE_PORT",
		"database.user":              "DATABASE_USER",
		"database.password":          "DATABASE_PASSWORD",
		"database.name":              "DATABASE_NAME",
		"database.ssl_mode":          "DATABASE_SSL_MODE",
		"redis.host":                 "REDIS_HOST",
		"redis.port":                 "REDIS_PORT",
		"redis.password":             "REDIS_PASSWORD",
		"redis.db":                   "REDIS_DB",
		"gumroad.webhook_key":        "GUMROAD_WEBHOOK_KEY",
		"jwt.secret_key":             "JWT_SECRET_KEY",
		"catalog.products":           "CATALOG_PRODUCTS",
		"database.max_open_conns":    "DATABASE_MAX_OPEN_CONNS",
		"database.max_idle_conns":    "DATABASE_MAX_IDLE_CONNS",
		"database.conn_max_lifetime": "DATABASE_CONN_MAX_LIFETIME",
	}
	for key, env := range bindings {
		viper.BindEnv(key, env)
	}

	required := []string{
		"database.host",
		"database.user",
		"database.password",
		"database.name",
		"gumroad.webhook_key",
		"jwt.secret_key",
	}
	var missing []string
	for _, key := range required {
		if viper.GetString(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

// WebhookSecret returns the shared secret Gumroad must present on the key
// query parameter.
func WebhookSecret() string {
	return viper.GetString("gumroad.webhook_key")
}
