package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type GatewayMode string

const (
	GatewayRazorpay GatewayMode = "razorpay"
	GatewayMock     GatewayMode = "mock"
)

// nonCentesimal lists ISO 4217 codes whose minor unit is not 1/100. Amounts
// are stored with two decimals, so these are refused.
var nonCentesimal = map[string]struct{}{
	// zero decimals
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "ISK": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {},
	"XOF": {}, "XPF": {},
	// three decimals
	"BHD": {}, "IQD": {}, "JOD": {}, "KWD": {}, "LYD": {}, "OMR": {}, "TND": {},
	// four decimals
	"CLF": {}, "UYW": {},
}

type Config struct {
	HTTPAddress     string        `env:"HTTP_ADDRESS" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	DatabaseURL string `env:"DATABASE_URL,required"`

	JWTSecret string `env:"JWT_SECRET,required"`

	Gateway GatewayConfig

	// Pending orders older than this are eligible for the reconcile sweep.
	ReconcileAfter time.Duration `env:"RECONCILE_AFTER" envDefault:"30m"`
}

// GatewayConfig carries the payment gateway credentials. The secret signs
// outbound order creation and verifies inbound callback signatures.
type GatewayConfig struct {
	Mode      GatewayMode `env:"GATEWAY_MODE" envDefault:"razorpay"`
	KeyID     string      `env:"RAZORPAY_KEY_ID,required"`
	KeySecret string      `env:"RAZORPAY_KEY_SECRET,required"`
	Currency  string      `env:"PAYMENT_CURRENCY" envDefault:"INR"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	// a missing .env is fine, real deployments set the environment directly
	_ = godotenv.Load(envFiles...)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"DATABASE_URL":        c.DatabaseURL,
		"JWT_SECRET":          c.JWTSecret,
		"RAZORPAY_KEY_ID":     c.Gateway.KeyID,
		"RAZORPAY_KEY_SECRET": c.Gateway.KeySecret,
	} {
		if v == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}
	switch c.Gateway.Mode {
	case GatewayRazorpay, GatewayMock:
	default:
		return fmt.Errorf("unknown GATEWAY_MODE %q", c.Gateway.Mode)
	}
	if len(c.Gateway.Currency) != 3 {
		return fmt.Errorf("PAYMENT_CURRENCY must be a 3-letter code, got %q", c.Gateway.Currency)
	}
	if _, ok := nonCentesimal[strings.ToUpper(c.Gateway.Currency)]; ok {
		return fmt.Errorf("PAYMENT_CURRENCY %q does not use two minor digits", c.Gateway.Currency)
	}
	if c.ReconcileAfter <= 0 {
		return fmt.Errorf("RECONCILE_AFTER must be positive, got %s", c.ReconcileAfter)
	}
	return nil
}
