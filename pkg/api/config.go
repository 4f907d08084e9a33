package api

import (
	"net"
	"strconv"
	"time"
)

// APIConfig configures the status HTTP server of a producer or consumer.
type APIConfig struct {
	// Enabled starts the server. Unset means enabled.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// Host is the bind address. Default: 127.0.0.1
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the TCP port. A producer and its consumers on one host need
	// distinct ports. Default: 7070
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout and WriteTimeout bound one request. Default: 10s each
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// IsEnabled reports whether the server should run.
func (c *APIConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Addr returns host:port.
func (c *APIConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ApplyDefaults fills in zero values.
func (c *APIConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port <= 0 {
		c.Port = 7070
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
}
