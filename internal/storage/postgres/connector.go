package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/glossifier-terms/internal/refresh"
)

// Config controls how the glossifier database is reached.
type Config struct {
	// DSN, when set, wins over the individual connection fields.
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string

	MaxConns       int32
	ConnectTimeout time.Duration
	// LockKey enables the advisory lock around each replacement when non-nil.
	LockKey *int64
}

// Connector opens a fresh pool per refresh run.
type Connector struct {
	cfg Config
}

// NewConnector returns a Connector for cfg.
func NewConnector(cfg Config) *Connector {
	return &Connector{cfg: cfg}
}

// Connect opens the pool and pings it so an unreachable database fails here,
// before anything is fetched.
func (c *Connector) Connect(ctx context.Context) (refresh.Store, error) {
	dsn, err := BuildDSN(c.cfg)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if c.cfg.MaxConns > 0 {
		poolCfg.MaxConns = c.cfg.MaxConns
	}
	if c.cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = c.cfg.ConnectTimeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := NewTermsStoreWithPool(pool, c.cfg.LockKey)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// BuildDSN returns cfg.DSN or assembles a keyword/value DSN from the individual fields.
func BuildDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.User == "" || cfg.Name == "" {
		return "", errors.New("postgres configuration requires user and database name")
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	params := map[string]string{
		"host":   host,
		"port":   fmt.Sprintf("%d", port),
		"user":   cfg.User,
		"dbname": cfg.Name,
	}
	if cfg.Password != "" {
		params["password"] = cfg.Password
	}
	params["sslmode"] = cfg.SSLMode
	if params["sslmode"] == "" {
		params["sslmode"] = "disable"
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, quoteDSNValue(params[key])))
	}
	return strings.Join(parts, " "), nil
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
