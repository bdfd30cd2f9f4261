package store

import (
	"time"

	"metxy/internal/platform/config"
)

// Config aggregates per backend configuration
type Config struct {
	AppName string

	PG PGConfig
	CH CHConfig
}

// PGConfig configures postgres connectivity and tracing
type PGConfig struct {
	Enabled     bool
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int

	ConnectRetries int           // default 20
	PingTimeout    time.Duration // default 3s
}

// CHConfig configures clickhouse connectivity
type CHConfig struct {
	Enabled bool
	URL     string
	LogSQL  bool
	Role    string // reported in client info, e.g. "derive"
}

// ConfigFromEnv reads SERVICE_PGSQL_* and SERVICE_CLICKHOUSE_*; a backend is
// enabled when its DBURL is set
func ConfigFromEnv(c config.Conf, app, role string) Config {
	pg := c.Prefix("SERVICE_PGSQL_")
	ch := c.Prefix("SERVICE_CLICKHOUSE_")

	out := Config{AppName: app}
	if url := pg.MayString("DBURL", ""); url != "" {
		out.PG = PGConfig{
			Enabled:        true,
			URL:            url,
			MaxConns:       int32(pg.MayInt("MAX_CONNS", 4)),
			LogSQL:         pg.MayBool("LOG_SQL", false),
			SlowQueryMs:    pg.MayInt("SLOW_MS", 250),
			ConnectRetries: pg.MayInt("CONNECT_RETRIES", 20),
			PingTimeout:    pg.MayDuration("PING_TIMEOUT", 3*time.Second),
		}
	}
	if url := ch.MayString("DBURL", ""); url != "" {
		out.CH = CHConfig{
			Enabled: true,
			URL:     url,
			LogSQL:  ch.MayBool("LOG_SQL", false),
			Role:    role,
		}
	}
	return out
}
