package clienv

import (
	"context"
	"net/url"

	"github.com/cockroachdb/errors"
)

// DBTypeMySQL is the only database type the analytics CLI is run against.
const DBTypeMySQL = "mysql"

const defaultConnection = "default"

// Connection is one configured database profile.
type Connection struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     string `mapstructure:"port" json:"port"`
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"-"`
	Database string `mapstructure:"database" json:"database"`
	Prefix   string `mapstructure:"prefix" json:"prefix"`
}

// ConnectionSource looks up a connection profile by key and target.
type ConnectionSource interface {
	ConnectionInfo(key, target string) (Connection, bool)
}

// LicenseSource returns the currently configured license key.
type LicenseSource interface {
	License(ctx context.Context) (string, error)
}

// ConfigurationError reports a missing connection profile.
type ConfigurationError struct {
	Key    string
	Target string
}

func (e *ConfigurationError) Error() string {
	return "Database connection not found"
}

// Env is the environment handed to one analytics CLI process.
type Env struct {
	License    string
	DBUser     string
	DBPassword string
	DBName     string
	DBType     string
	DBPrefix   string
	DBHost     string
	DBPort     string
}

// Vars renders the environment as KEY=value pairs for exec.Cmd.Env.
func (e Env) Vars() []string {
	return []string{
		"DBUSER=" + e.DBUser,
		"DBPASS=" + e.DBPassword,
		"DBNAME=" + e.DBName,
		"DBTYPE=" + e.DBType,
		"LICENSE=" + e.License,
		"DBPREFIX=" + e.DBPrefix,
		"DBPORT=" + e.DBPort,
		"DBHOST=" + e.DBHost,
	}
}

// Resolver builds a fresh Env for every invocation from the current configuration.
type Resolver struct {
	conns   ConnectionSource
	license LicenseSource
	key     string
	target  string
}

// NewResolver returns a Resolver bound to one connection key/target. Empty key
// or target select "default".
func NewResolver(conns ConnectionSource, license LicenseSource, key, target string) *Resolver {
	if key == "" {
		key = defaultConnection
	}
	if target == "" {
		target = defaultConnection
	}
	return &Resolver{conns: conns, license: license, key: key, target: target}
}

// Resolve returns the CLI environment or a *ConfigurationError when no
// connection profile matches.
func (r *Resolver) Resolve(ctx context.Context) (Env, error) {
	if r.conns == nil {
		return Env{}, &ConfigurationError{Key: r.key, Target: r.target}
	}
	info, ok := r.conns.ConnectionInfo(r.key, r.target)
	if !ok {
		return Env{}, &ConfigurationError{Key: r.key, Target: r.target}
	}

	license := ""
	if r.license != nil {
		l, err := r.license.License(ctx)
		if err != nil {
			return Env{}, errors.Wrap(err, "load license")
		}
		license = l
	}

	return Env{
		License:    license,
		DBUser:     info.Username,
		DBPassword: url.QueryEscape(info.Password),
		DBName:     info.Database,
		DBType:     DBTypeMySQL,
		DBPrefix:   info.Prefix,
		DBHost:     info.Host,
		DBPort:     info.Port,
	}, nil
}

// Connections is a map-backed ConnectionSource keyed by key then target.
type Connections map[string]map[string]Connection

// ConnectionInfo implements ConnectionSource.
func (c Connections) ConnectionInfo(key, target string) (Connection, bool) {
	targets, ok := c[key]
	if !ok {
		return Connection{}, false
	}
	info, ok := targets[target]
	return info, ok
}
