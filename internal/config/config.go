// Package config decodes the daemon's TOML configuration file. Reading it
// from argv/a path is the collaborator's job (spec §1); this package only
// owns the shape of the document and the decode entry point.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// IPMode selects the transport family, per spec §6.
type IPMode string

const (
	IPv4 IPMode = "ipv4"
	IPv6 IPMode = "ipv6"
)

// Config is the daemon-wide configuration document.
type Config struct {
	Interfaces     []string      `toml:"interfaces"`
	IPMode         IPMode        `toml:"ip_mode"`
	MulticastGroup string        `toml:"multicast_group"`
	Port           uint16        `toml:"port"`
	UnixSocket     string        `toml:"unix_socket"`

	// Duration fields are plain TOML integers (nanoseconds), since
	// BurntSushi/toml doesn't parse Go duration strings.
	TransactionStaleness time.Duration `toml:"transaction_staleness"`
	SyncInterval         time.Duration `toml:"sync_interval"`
	AnnounceInterval     time.Duration `toml:"announce_interval"`
}

// Defaults returns a Config with the legacy deployment's defaults.
func Defaults() Config {
	return Config{
		IPMode:               IPv4,
		Port:                 16124,
		TransactionStaleness: 30 * time.Second,
		SyncInterval:         10 * time.Second,
		AnnounceInterval:     10 * time.Second,
	}
}

// Decode parses a TOML configuration document, starting from Defaults()
// for any field the document doesn't set.
func Decode(data string) (Config, error) {
	cfg := Defaults()
	if _, err := toml.Decode(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
