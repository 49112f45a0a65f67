package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Dedenruslan19/bidload/internal/loadtest/executor"
)

// Override keys, their environment variables and CLI flags.
const (
	KeyBaseURL        = "base-url"
	KeySessionID      = "session-id"
	KeyItemID         = "item-id"
	KeyAuthToken      = "auth-token"
	KeyRequestTimeout = "request-timeout"
)

var overrideEnv = map[string]string{
	KeyBaseURL:        "BASE_URL",
	KeySessionID:      "SESSION_ID",
	KeyItemID:         "ITEM_ID",
	KeyAuthToken:      "AUTH_TOKEN",
	KeyRequestTimeout: "REQUEST_TIMEOUT",
}

// RegisterOverrideFlags adds the target override flags to flags.
func RegisterOverrideFlags(flags *pflag.FlagSet) {
	flags.String(KeyBaseURL, "", "Auction service base URL (env BASE_URL, default "+DefaultBaseURL+")")
	flags.String(KeySessionID, "", "Auction session id (env SESSION_ID, default "+DefaultSessionID+")")
	flags.String(KeyItemID, "", "Auction item id (env ITEM_ID, default "+DefaultItemID+")")
	flags.String(KeyAuthToken, "", "Bearer token sent with every bid (env AUTH_TOKEN)")
	flags.String(KeyRequestTimeout, "", "Per-request timeout, e.g. 10s (env REQUEST_TIMEOUT, default 10s)")
}

// NewOverrides returns a viper instance bound to the override environment
// variables and, when flags is non-nil, to the changed override flags.
// Flags take precedence over the environment.
func NewOverrides(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	for key, env := range overrideEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
		if flags == nil {
			continue
		}
		if f := flags.Lookup(key); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

// ApplyOverrides copies every override set by flag or environment into
// the target settings. Values from the file are kept otherwise.
func (c *TestConfig) ApplyOverrides(v *viper.Viper) error {
	if v == nil {
		return nil
	}

	set := func(key string) (string, bool) {
		if !v.IsSet(key) {
			return "", false
		}
		s := strings.TrimSpace(v.GetString(key))
		return s, s != ""
	}

	if s, ok := set(KeyBaseURL); ok {
		c.Target.BaseURL = s
	}
	if s, ok := set(KeySessionID); ok {
		c.Target.SessionID = ID(s)
	}
	if s, ok := set(KeyItemID); ok {
		c.Target.ItemID = ID(s)
	}
	if s, ok := set(KeyAuthToken); ok {
		c.Target.AuthToken = s
	}
	if s, ok := set(KeyRequestTimeout); ok {
		d, err := ParseDurationString(s)
		if err != nil {
			return fmt.Errorf("%s: %w", KeyRequestTimeout, err)
		}
		c.Target.Timeout = Duration(d)
	}
	return nil
}

// ApplyDefaults fills every unset target setting with its default.
func (c *TestConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "bid load test"
	}
	if c.Target.BaseURL == "" {
		c.Target.BaseURL = DefaultBaseURL
	}
	c.Target.BaseURL = strings.TrimRight(c.Target.BaseURL, "/")
	if c.Target.SessionID == "" {
		c.Target.SessionID = DefaultSessionID
	}
	if c.Target.ItemID == "" {
		c.Target.ItemID = DefaultItemID
	}
	if c.Target.Timeout == 0 {
		c.Target.Timeout = Duration(DefaultRequestTimeout)
	}
}

// ToExecutorConfig converts a scenario into an executor configuration.
// Unset graceful stop and ramp-down default to 30s.
func (sc *ScenarioConfig) ToExecutorConfig(name string) *executor.Config {
	cfg := &executor.Config{
		Name:             name,
		Type:             executor.Type(sc.Executor),
		VUs:              sc.VUs,
		Duration:         time.Duration(sc.Duration),
		StartVUs:         sc.StartVUs,
		GracefulRampDown: durationOr(sc.GracefulRampDown, DefaultGracefulStop),
		StartRate:        sc.StartRate,
		TimeUnit:         time.Duration(sc.TimeUnit),
		PreAllocatedVUs:  sc.PreAllocatedVUs,
		MaxVUs:           sc.MaxVUs,
		GracefulStop:     durationOr(sc.GracefulStop, DefaultGracefulStop),
	}
	for _, stage := range sc.Stages {
		cfg.Stages = append(cfg.Stages, executor.Stage{
			Duration: time.Duration(stage.Duration),
			Target:   stage.Target,
			Name:     stage.Name,
		})
	}
	return cfg
}

// ActiveWindow returns startTime plus the scenario's own duration.
func (sc *ScenarioConfig) ActiveWindow() time.Duration {
	return time.Duration(sc.StartTime) + sc.ToExecutorConfig("").TotalDuration()
}

func durationOr(d *Duration, def time.Duration) time.Duration {
	if d == nil {
		return def
	}
	return time.Duration(*d)
}
