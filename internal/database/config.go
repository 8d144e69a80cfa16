package database

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DBMS is the provenance name attached to every object loaded or saved.
const DBMS = "PostgreSQL"

// DefaultPort is used when Config.Port is zero.
const DefaultPort = 5432

// Config holds everything needed to open one database session.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`

	// ConnectTimeout bounds session establishment only; statements have no timeout.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ApplicationName is reported to the server (pg_stat_activity).
	ApplicationName string `yaml:"application_name"`

	// TraceLevel is the pgx tracelog level for wire tracing (none disables it).
	TraceLevel string `yaml:"trace_level"`
}

// DefaultConfig returns settings for a local server with the given credentials.
func DefaultConfig(database, user, password string) *Config {
	return &Config{
		Host:            "localhost",
		Port:            DefaultPort,
		Database:        database,
		User:            user,
		Password:        password,
		SSLMode:         "prefer",
		ConnectTimeout:  10 * time.Second,
		ApplicationName: "geopg",
		TraceLevel:      "none",
	}
}

// Identity is the uniqueness key of a live session.
type Identity struct {
	Host     string
	Port     int
	Database string
}

// String renders the identity the way connections are displayed: "db [host:port]".
func (id Identity) String() string {
	return fmt.Sprintf("%s [%s:%d]", id.Database, id.Host, id.Port)
}

// Identity returns the (host, port, database) key of c, with the port defaulted.
func (c *Config) Identity() Identity {
	return Identity{Host: c.Host, Port: c.port(), Database: c.Database}
}

// DisplayName is Identity().String().
func (c *Config) DisplayName() string {
	return c.Identity().String()
}

func (c *Config) port() int {
	if c.Port == 0 {
		return DefaultPort
	}
	return c.Port
}

// DSN renders c as a libpq keyword/value connection string. Values are
// single-quoted so passwords with spaces or quotes survive.
func (c *Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	parts := []string{
		"host=" + dsnValue(c.Host),
		"port=" + strconv.Itoa(c.port()),
		"dbname=" + dsnValue(c.Database),
		"user=" + dsnValue(c.User),
		"sslmode=" + dsnValue(sslMode),
	}
	if c.Password != "" {
		parts = append(parts, "password="+dsnValue(c.Password))
	}
	if c.ConnectTimeout > 0 {
		secs := int(c.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		parts = append(parts, "connect_timeout="+strconv.Itoa(secs))
	}
	if c.ApplicationName != "" {
		parts = append(parts, "application_name="+dsnValue(c.ApplicationName))
	}
	return strings.Join(parts, " ")
}

func dsnValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
