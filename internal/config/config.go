// Package config loads the geopgd configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/koustreak/geopg/internal/database"
	"github.com/koustreak/geopg/internal/errs"
	"github.com/koustreak/geopg/internal/logger"
	"go.yaml.in/yaml/v3"
)

// Shutdown policies for transactions still open when the process exits.
const (
	ShutdownCommit   = "commit"
	ShutdownRollback = "rollback"
)

// Config is the whole configuration file.
type Config struct {
	Logger      logger.Config     `yaml:"logger"`
	Server      Server            `yaml:"server"`
	Connections []database.Config `yaml:"connections"`

	// Shutdown is ShutdownCommit or ShutdownRollback.
	Shutdown string `yaml:"shutdown"`
}

// Server configures the HTTP adapter.
type Server struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a configuration with no connections, listening on
// localhost:8080 and rolling back open transactions at exit.
func Default() *Config {
	return &Config{
		Logger: *logger.DefaultConfig(),
		Server: Server{
			Addr:         "localhost:8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Shutdown: ShutdownRollback,
	}
}

// Load reads the file at path. ${VAR} references are expanded from the
// environment before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindNotFound, "cannot read config "+path, err)
	}
	return Parse(data)
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} with the environment value of NAME. A bare
// "$" is literal, so values such as "pa$word" survive.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	})
}

// Parse decodes data over Default, fills per-connection defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(expandEnv(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "invalid config", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Connections {
		conn := &c.Connections[i]
		def := database.DefaultConfig(conn.Database, conn.User, conn.Password)
		if conn.Host == "" {
			conn.Host = def.Host
		}
		if conn.Port == 0 {
			conn.Port = def.Port
		}
		if conn.SSLMode == "" {
			conn.SSLMode = def.SSLMode
		}
		if conn.ConnectTimeout == 0 {
			conn.ConnectTimeout = def.ConnectTimeout
		}
		if conn.ApplicationName == "" {
			conn.ApplicationName = def.ApplicationName
		}
		if conn.TraceLevel == "" {
			conn.TraceLevel = def.TraceLevel
		}
	}
	if c.Logger.Output == nil {
		c.Logger.Output = os.Stderr
	}
}

// Validate reports the first problem found.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errs.New(errs.ErrKindInvalidInput, "server.addr is required")
	}
	switch c.Shutdown {
	case ShutdownCommit, ShutdownRollback:
	default:
		return errs.Newf(errs.ErrKindInvalidInput, "shutdown must be %q or %q, got %q", ShutdownCommit, ShutdownRollback, c.Shutdown)
	}

	seen := make(map[database.Identity]bool, len(c.Connections))
	for i, conn := range c.Connections {
		if conn.Database == "" || conn.User == "" {
			return errs.Newf(errs.ErrKindInvalidInput, "connections[%d]: database and user are required", i)
		}
		if conn.Port < 0 || conn.Port > 65535 {
			return errs.Newf(errs.ErrKindInvalidInput, "connections[%d]: invalid port %d", i, conn.Port)
		}
		id := conn.Identity()
		if seen[id] {
			return errs.Newf(errs.ErrKindAlreadyExists, "connections[%d]: %s is listed twice", i, id)
		}
		seen[id] = true
	}
	return nil
}

// CommitOnShutdown reports whether open transactions are committed at exit.
func (c *Config) CommitOnShutdown() bool {
	return c.Shutdown == ShutdownCommit
}

// String summarises the configuration without credentials.
func (c *Config) String() string {
	return fmt.Sprintf("addr=%s connections=%d shutdown=%s", c.Server.Addr, len(c.Connections), c.Shutdown)
}
