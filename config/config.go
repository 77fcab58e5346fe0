package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/domino14/dirimult/dirmult"
)

// Keys for every setting the engine and its front ends understand.
const (
	ConfigTolerance          = "tolerance"
	ConfigMaxIterations      = "max-iterations"
	ConfigThreads            = "threads"
	ConfigConfidence         = "confidence"
	ConfigDebug              = "debug"
	ConfigSeed               = "seed"
	ConfigNatsURL            = "nats-url"
	ConfigNatsSubject        = "nats-subject"
	ConfigLambdaFunctionName = "lambda-function-name"
	ConfigCacheFraction      = "cache-fraction"
)

const envPrefix = "dirimult"

// Config wraps a viper instance. Settings resolve in the usual viper
// order: explicit Set, then command-line flags, then DIRIMULT_*
// environment variables, then the built-in defaults.
type Config struct {
	v *viper.Viper
}

// DefaultConfig returns a Config carrying only the built-in defaults
// and any DIRIMULT_* environment overrides.
func DefaultConfig() Config {
	c := Config{}
	c.init()
	return c
}

func (c *Config) init() {
	c.v = viper.New()
	c.v.SetDefault(ConfigTolerance, dirmult.DefaultTolerance)
	c.v.SetDefault(ConfigMaxIterations, dirmult.DefaultMaxIterations)
	c.v.SetDefault(ConfigThreads, 0)
	c.v.SetDefault(ConfigConfidence, 95.0)
	c.v.SetDefault(ConfigDebug, false)
	c.v.SetDefault(ConfigSeed, uint64(0))
	c.v.SetDefault(ConfigNatsURL, "nats://127.0.0.1:4222")
	c.v.SetDefault(ConfigNatsSubject, "dirimult.fit")
	c.v.SetDefault(ConfigLambdaFunctionName, "")
	c.v.SetDefault(ConfigCacheFraction, 0.25)
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
}

// Load parses command-line style arguments on top of the defaults.
func (c *Config) Load(args []string) error {
	if c.v == nil {
		c.init()
	}
	fs := pflag.NewFlagSet("dirimult", pflag.ContinueOnError)
	fs.Float64(ConfigTolerance, dirmult.DefaultTolerance, "relative convergence tolerance for the fixed-point fit")
	fs.Int(ConfigMaxIterations, dirmult.DefaultMaxIterations, "maximum number of fixed-point iterations")
	fs.Int(ConfigThreads, 0, "worker goroutines per fit; 0 uses all CPUs")
	fs.Float64(ConfigConfidence, 95, "confidence level, in percent, for parameter intervals")
	fs.Bool(ConfigDebug, false, "debug logging")
	fs.Uint64(ConfigSeed, 0, "seed for synthetic data; 0 picks one at random")
	fs.String(ConfigNatsURL, "nats://127.0.0.1:4222", "NATS server URL for the fit worker")
	fs.String(ConfigNatsSubject, "dirimult.fit", "NATS subject the fit worker listens on")
	fs.String(ConfigLambdaFunctionName, "", "AWS Lambda function that serves remote fit requests")
	fs.Float64(ConfigCacheFraction, 0.25, "fraction of system memory for the worker response cache")
	fs.String("cpu-profile", "", "file to write a CPU profile to")
	fs.String("mem-profile", "", "file to write a memory profile to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.v.BindPFlags(fs)
}

func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

func (c *Config) GetUint64(key string) uint64 {
	return c.v.GetUint64(key)
}

func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// Set overrides a single setting. It wins over flags and environment.
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

func (c *Config) AllSettings() map[string]any {
	return c.v.AllSettings()
}

// SanitizedSettings is AllSettings with credential-bearing values
// masked, suitable for logging at startup.
func (c *Config) SanitizedSettings() map[string]any {
	settings := c.v.AllSettings()
	if u, ok := settings[ConfigNatsURL].(string); ok && strings.Contains(u, "@") {
		settings[ConfigNatsURL] = "(redacted)"
	}
	return settings
}
