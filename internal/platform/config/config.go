// Package config handles application configuration via environment variables
//
// A Conf collects every missing or malformed value it is asked for instead of
// panicking on the first one. Callers read all their knobs, then check Err once
// so a bad environment fails the run before any work starts.
package config

import (
	stderrs "errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/logger"
)

// Conf is a namespaced view over environment variables (e.g. "METXY_HIST_")
// children created with Prefix share the parent's issue list
type Conf struct {
	prefix string
	issues *issues
}

type issues struct {
	mu   sync.Mutex
	errs []error
}

// New creates a root Conf (no prefix)
func New() Conf { return Conf{issues: &issues{}} }

// Prefix creates a child Conf with an additional prefix, e.g. cfg.Prefix("METXY_")
func (c Conf) Prefix(p string) Conf { return Conf{prefix: c.prefix + p, issues: c.issues} }

// key composes the fully-qualified env var name
func (c Conf) key(k string) string { return c.prefix + k }

func (c Conf) get(k string) string { return strings.TrimSpace(os.Getenv(c.key(k))) }

// fail records a config issue; a zero Conf only logs it
func (c Conf) fail(key, value, reason string) {
	logger.Get().Warn().Str("key", c.key(key)).Str("value", value).Msg(reason)
	if c.issues == nil {
		return
	}
	err := perr.WithField(perr.Configf("%s: %s", c.key(key), reason), c.key(key))
	c.issues.mu.Lock()
	c.issues.errs = append(c.issues.errs, err)
	c.issues.mu.Unlock()
}

// Err returns every recorded issue joined, or nil
func (c Conf) Err() error {
	if c.issues == nil {
		return nil
	}
	c.issues.mu.Lock()
	defer c.issues.mu.Unlock()
	return stderrs.Join(c.issues.errs...)
}

// MustString records an issue if the key is missing or empty
func (c Conf) MustString(key string) string {
	v := c.get(key)
	if v == "" {
		c.fail(key, v, "missing required env")
	}
	return v
}

// MayString returns the value or def if missing/empty
func (c Conf) MayString(key, def string) string {
	if v := c.get(key); v != "" {
		return v
	}
	return def
}

// MayInt returns the value or def if missing/empty; records an issue if not an int
func (c Conf) MayInt(key string, def int) int {
	s := c.get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		c.fail(key, s, "invalid int")
		return def
	}
	return v
}

// MayFloat64 returns the value or def if missing/empty; records an issue if not a float
func (c Conf) MayFloat64(key string, def float64) float64 {
	s := c.get(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		c.fail(key, s, "invalid float64")
		return def
	}
	return v
}

// MayBool returns the value or def if missing/empty; records an issue if not a bool
func (c Conf) MayBool(key string, def bool) bool {
	s := c.get(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		c.fail(key, s, "invalid bool")
		return def
	}
	return v
}

// MayDuration returns the value or def if missing/empty; records an issue if not a duration
func (c Conf) MayDuration(key string, def time.Duration) time.Duration {
	s := c.get(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		c.fail(key, s, "invalid duration (e.g. 250ms, 2s, 1h)")
		return def
	}
	return d
}

// MayPort returns a net/http addr like ":8080"; records an issue outside 1..65535
func (c Conf) MayPort(key string, def int) string {
	p := c.MayInt(key, def)
	if p < 1 || p > 65535 {
		c.fail(key, strconv.Itoa(p), "invalid TCP port; expected 1..65535")
		p = def
	}
	return ":" + strconv.Itoa(p)
}

// MayCSV returns the comma-separated values, blanks dropped; def if missing/empty
func (c Conf) MayCSV(key string, def []string) []string {
	out := SplitCSV(c.get(key))
	if len(out) == 0 {
		return def
	}
	return out
}

// MayEnum returns the value (case-insensitive match) or def; records an issue if not allowed
func (c Conf) MayEnum(key, def string, allowed ...string) string {
	v := c.MayString(key, def)
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return a
		}
	}
	c.fail(key, v, "invalid enum value; allowed "+strings.Join(allowed, "|"))
	return def
}

// SplitCSV splits s on commas, trimming and dropping blanks
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
