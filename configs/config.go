package config

import (
	"log"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	once sync.Once
	v    *viper.Viper
)

func load() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("Warning: .env file not found, reading from system environment variables")
	}

	v = viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOW_ORIGINS", "*")
	v.SetDefault("SESSION_SWEEP_SPEC", "* * * * *")

	_ = v.BindEnv("DATABASE_URL")
	_ = v.BindEnv("JWT_SECRET")
}

// Config returns the configuration value for key, from the environment or
// the built-in defaults.
func Config(key string) string {
	once.Do(load)
	return v.GetString(key)
}
