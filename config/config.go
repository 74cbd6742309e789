package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

// Config is the full application configuration. It is built once in main and
// passed down explicitly; nothing reads viper after startup.
type Config struct {
	Mode     string         `mapstructure:"mode"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	HTTPPort string        `mapstructure:"httpPort"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	SSLMode  string `mapstructure:"sslmode"`
}

type JWTConfig struct {
	SecretKey        string        `mapstructure:"secretKey"`
	RefreshSecretKey string        `mapstructure:"refreshSecretKey"`
	AccessTokenTTL   time.Duration `mapstructure:"accessTokenTTL"`
	RefreshTokenTTL  time.Duration `mapstructure:"refreshTokenTTL"`
	Issuer           string        `mapstructure:"issuer"`
	Audience         string        `mapstructure:"audience"`
}

type AuthConfig struct {
	BcryptCost        int  `mapstructure:"bcryptCost"`
	PasswordMinLength int  `mapstructure:"passwordMinLength"`
	RequireUppercase  bool `mapstructure:"requireUppercase"`
	RequireLowercase  bool `mapstructure:"requireLowercase"`
	RequireNumber     bool `mapstructure:"requireNumber"`
}

type MetricsConfig struct {
	Port string `mapstructure:"port"`
}

// InitConfig loads the embedded defaults, overlays an optional config.yml from
// disk, then applies environment overrides (JWT_ACCESS_SECRET etc.). Required
// fields are validated here so a misconfigured process dies at startup instead
// of on the first request.
func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")

	if err := v.ReadInConfig(); err != nil {
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets and deployment-specific values come from the environment, never
	// from the YAML file.
	bindings := map[string]string{
		"jwt.secretKey":        "JWT_ACCESS_SECRET",
		"jwt.refreshSecretKey": "JWT_REFRESH_SECRET",
		"jwt.accessTokenTTL":   "JWT_ACCESS_EXPIRES_IN",
		"jwt.refreshTokenTTL":  "JWT_REFRESH_EXPIRES_IN",
		"auth.bcryptCost":      "BCRYPT_COST",
		"database.host":        "POSTGRES_HOST",
		"database.port":        "POSTGRES_PORT",
		"database.username":    "POSTGRES_USER",
		"database.password":    "POSTGRES_PASSWORD",
		"database.db":          "POSTGRES_DB",
		"server.httpPort":      "HTTP_PORT",
		"mode":                 "APP_ENV",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) validate() error {
	var missing []string
	if c.JWT.SecretKey == "" {
		missing = append(missing, "JWT_ACCESS_SECRET")
	}
	if c.JWT.RefreshSecretKey == "" {
		missing = append(missing, "JWT_REFRESH_SECRET")
	}
	if c.Database.Host == "" {
		missing = append(missing, "POSTGRES_HOST")
	}
	if c.Database.DB == "" {
		missing = append(missing, "POSTGRES_DB")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.JWT.SecretKey == c.JWT.RefreshSecretKey {
		return fmt.Errorf("access and refresh signing secrets must differ")
	}
	if c.JWT.AccessTokenTTL <= 0 || c.JWT.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	return nil
}
