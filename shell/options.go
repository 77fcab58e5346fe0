package shell

import (
	"errors"
	"strconv"
	"strings"

	"github.com/domino14/dirimult/config"
)

// ShellOptions fronts the session settings that commands consult. All
// values live in the config layer so flags and env vars seed them.
type ShellOptions struct {
	cfg *config.Config
}

func NewShellOptions(cfg *config.Config) *ShellOptions {
	return &ShellOptions{cfg: cfg}
}

var optionKeys = []string{
	config.ConfigTolerance,
	config.ConfigMaxIterations,
	config.ConfigThreads,
	config.ConfigConfidence,
	config.ConfigSeed,
}

func (opts *ShellOptions) Show(key string) (bool, string) {
	switch key {
	case config.ConfigTolerance:
		return true, strconv.FormatFloat(opts.cfg.GetFloat64(key), 'g', -1, 64)
	case config.ConfigMaxIterations, config.ConfigThreads:
		return true, strconv.Itoa(opts.cfg.GetInt(key))
	case config.ConfigConfidence:
		return true, strconv.FormatFloat(opts.cfg.GetFloat64(key), 'g', -1, 64) + "%"
	case config.ConfigSeed:
		return true, strconv.FormatUint(opts.cfg.GetUint64(key), 10)
	default:
		return false, "No such option: " + key
	}
}

func (opts *ShellOptions) ToDisplayText() string {
	out := strings.Builder{}
	out.WriteString("Settings:\n")
	for _, key := range optionKeys {
		_, val := opts.Show(key)
		out.WriteString("  " + key + ": " + val + "\n")
	}
	return out.String()
}

// Set parses and stores a single option, returning the display value
// that was stored.
func (opts *ShellOptions) Set(key string, values []string) (string, error) {
	if len(values) == 0 {
		return "", errors.New("option " + key + " needs a value")
	}
	val := values[0]
	switch key {
	case config.ConfigTolerance:
		tol, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return "", err
		}
		if tol <= 0 {
			return "", errors.New("tolerance must be positive")
		}
		opts.cfg.Set(key, tol)
	case config.ConfigMaxIterations:
		n, err := strconv.Atoi(val)
		if err != nil {
			return "", err
		}
		if n <= 0 {
			return "", errors.New("max-iterations must be positive")
		}
		opts.cfg.Set(key, n)
	case config.ConfigThreads:
		n, err := strconv.Atoi(val)
		if err != nil {
			return "", err
		}
		if n < 0 {
			return "", errors.New("threads cannot be negative")
		}
		opts.cfg.Set(key, n)
	case config.ConfigConfidence:
		conf, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return "", err
		}
		if conf <= 0 || conf >= 100 {
			return "", errors.New("confidence is a percentage and must be strictly between 0 and 100")
		}
		opts.cfg.Set(key, conf)
	case config.ConfigSeed:
		seed, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return "", err
		}
		opts.cfg.Set(key, seed)
	default:
		return "", errors.New("no such option: " + key)
	}
	_, shown := opts.Show(key)
	return shown, nil
}
