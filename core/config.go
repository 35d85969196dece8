package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	DatabaseConfig struct {
		Engine        string // memory | postgres | mongo
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		URI           string // mongo only
		Timeout       time.Duration
	}

	BillingConfig struct {
		IntervalPolicy    string
		MaxRecordAttempts int
		DefaultPageSize   int
		MaxPageSize       int
	}

	SweeperConfig struct {
		Schedule string
		Timeout  time.Duration // per run, 0 means none
	}

	Config struct {
		AppName          string
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		WorkDir          string
		DefaultFromEmail string
		SendgridApiKey   string
		RollbarToken     string

		Database DatabaseConfig
		Billing  BillingConfig
		Sweeper  SweeperConfig
	}
)

func (c DatabaseConfig) Address() string {
	if c.Port == 0 {
		return c.Host
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// FromAddress parses DefaultFromEmail, falling back to a bare address on malformed input.
func (c *Config) FromAddress() mail.Address {
	addr, err := mail.ParseAddress(c.DefaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.DefaultFromEmail}
	}
	if addr.Name == "" {
		addr.Name = c.AppName
	}
	return *addr
}

// NewConfig loads the configuration from defaults, `config/.env.<env>` and the environment.
// ENV selects the environment: DEV (local; default), TEST, QA, PROD.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Bursar")
	v.SetDefault("build", "develop")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("database.engine", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "bursar")
	v.SetDefault("database.user", "bursar")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.timeout", 10*time.Second)
	v.SetDefault("billing.intervalPolicy", "even-periods")
	v.SetDefault("billing.maxRecordAttempts", 3)
	v.SetDefault("billing.defaultPageSize", 10)
	v.SetDefault("billing.maxPageSize", 100)
	v.SetDefault("sweeper.schedule", "15 2 * * *")
	v.SetDefault("sweeper.timeout", 30*time.Minute)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:          v.GetString("appName"),
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		WorkDir:          wd,
		DefaultFromEmail: v.GetString("defaultFromEmail"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		Database: DatabaseConfig{
			Engine:        strings.ToLower(v.GetString("database.engine")),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			URI:           v.GetString("database.uri"),
			Timeout:       v.GetDuration("database.timeout"),
		},
		Billing: BillingConfig{
			IntervalPolicy:    v.GetString("billing.intervalPolicy"),
			MaxRecordAttempts: v.GetInt("billing.maxRecordAttempts"),
			DefaultPageSize:   v.GetInt("billing.defaultPageSize"),
			MaxPageSize:       v.GetInt("billing.maxPageSize"),
		},
		Sweeper: SweeperConfig{
			Schedule: v.GetString("sweeper.schedule"),
			Timeout:  v.GetDuration("sweeper.timeout"),
		},
	}
}
