package channel

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

var keyRe = regexp.MustCompile(`^[A-Z0-9_]+$`)

// DefaultPrefixes maps channels to the env var prefix of their target keys:
// slack key OPS resolves FANOUT_SLACK_OPS.
var DefaultPrefixes = map[string]string{
	Slack:   "FANOUT_SLACK_",
	Webhook: "FANOUT_WEBHOOK_",
}

// Resolver maps (channel, key) to a destination URL from the environment.
type Resolver struct {
	Prefixes map[string]string
	Lookup   func(string) (string, bool)
}

func NewResolver() *Resolver {
	return &Resolver{Prefixes: DefaultPrefixes, Lookup: os.LookupEnv}
}

// LoadEnvFile loads a dotenv file. Variables already set win.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load secrets env file: %w", err)
	}
	return nil
}

// ResolveTarget returns the URL for key, or false when the key is invalid,
// unknown for the channel, or unset.
func (r *Resolver) ResolveTarget(channel, key string) (string, bool) {
	if !keyRe.MatchString(key) {
		return "", false
	}
	prefix, ok := r.Prefixes[channel]
	if !ok {
		return "", false
	}
	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(prefix + key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
