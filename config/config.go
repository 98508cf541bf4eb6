// Package config loads session, client, and server tunables from a
// TOML file, starting from each type's own defaults and overlaying
// only the fields the file actually sets. CLI flag parsing and any
// build/deploy orchestration around the resulting config are left to
// the caller; this package only turns a file on disk into validated
// structs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	vexnet "github.com/majiddarvishan/vex/net"
	"github.com/majiddarvishan/vex/session"
)

// ErrInvalid wraps the specific reason a loaded configuration failed
// validation.
var ErrInvalid = errors.New("config: invalid configuration")

// SessionFile is the TOML shape of session.Config.
type SessionFile struct {
	SendBufCapacity  int    `toml:"send_buf_capacity"`
	SendBufThreshold int    `toml:"send_buf_threshold"`
	ReceiveBufSize   int    `toml:"receive_buf_size"`
	SmallBodySize    int    `toml:"small_body_size"`
	MaxCommandLength uint32 `toml:"max_command_length"`
	UnbindTimeout    string `toml:"unbind_timeout"`
	BackpressureLow  uint64 `toml:"backpressure_low"`
	BackpressureHigh uint64 `toml:"backpressure_high"`
	RequestTimeout   string `toml:"request_timeout"`
}

// ServerFile is the TOML shape of a vexd listener: its listen address
// plus the session defaults applied to every accepted connection.
type ServerFile struct {
	Address           string      `toml:"address"`
	InactivityTimeout int         `toml:"inactivity_timeout"`
	Session           SessionFile `toml:"session"`
}

// ClientFile is the TOML shape of a vexc dialer: the peer address, the
// system_id it binds with, and the session defaults for the resulting
// connection.
type ClientFile struct {
	Address              string      `toml:"address"`
	SystemID             string      `toml:"system_id"`
	InactivityTimeout    string      `toml:"inactivity_timeout"`
	DisableAutoReconnect bool        `toml:"disable_auto_reconnect"`
	Session              SessionFile `toml:"session"`
}

// LoadSession reads path and overlays it onto session.DefaultConfig(),
// validating the result.
func LoadSession(path string) (session.Config, error) {
	cfg := session.DefaultConfig()

	var raw SessionFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return session.Config{}, fmt.Errorf("config: load session config %s: %w", path, err)
	}
	if err := applySessionFile(&cfg, raw, meta, nil); err != nil {
		return session.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return session.Config{}, errors.Wrap(ErrInvalid, err.Error())
	}
	return cfg, nil
}

// LoadServer reads path into a vexnet.ServerConfig, overlaying its
// embedded session block onto session.DefaultConfig().
func LoadServer(path string) (vexnet.ServerConfig, error) {
	sessionCfg := session.DefaultConfig()

	var raw ServerFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return vexnet.ServerConfig{}, fmt.Errorf("config: load server config %s: %w", path, err)
	}
	if meta.IsDefined("session") {
		if err := applySessionFile(&sessionCfg, raw.Session, meta, []string{"session"}); err != nil {
			return vexnet.ServerConfig{}, err
		}
	}
	if err := sessionCfg.Validate(); err != nil {
		return vexnet.ServerConfig{}, errors.Wrap(ErrInvalid, err.Error())
	}

	if strings.TrimSpace(raw.Address) == "" {
		return vexnet.ServerConfig{}, errors.Wrap(ErrInvalid, "address is required")
	}

	return vexnet.ServerConfig{
		Address:           raw.Address,
		InactivityTimeout: raw.InactivityTimeout,
		SessionConfig:     sessionCfg,
	}, nil
}

// LoadClient reads path into the pieces a vexc caller needs to build a
// vexnet.ClientConfig. It returns the decoded ClientFile (address,
// system_id, inactivity timeout, reconnect flag) and the validated
// session config rather than a ClientConfig directly, since
// ClientConfig also carries callback fields no file format can express.
func LoadClient(path string) (ClientFile, session.Config, error) {
	sessionCfg := session.DefaultConfig()

	var raw ClientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientFile{}, session.Config{}, fmt.Errorf("config: load client config %s: %w", path, err)
	}
	if meta.IsDefined("session") {
		if err := applySessionFile(&sessionCfg, raw.Session, meta, []string{"session"}); err != nil {
			return ClientFile{}, session.Config{}, err
		}
	}
	if err := sessionCfg.Validate(); err != nil {
		return ClientFile{}, session.Config{}, errors.Wrap(ErrInvalid, err.Error())
	}

	if strings.TrimSpace(raw.Address) == "" {
		return ClientFile{}, session.Config{}, errors.Wrap(ErrInvalid, "address is required")
	}
	if strings.TrimSpace(raw.SystemID) == "" {
		return ClientFile{}, session.Config{}, errors.Wrap(ErrInvalid, "system_id is required")
	}

	return raw, sessionCfg, nil
}

// InactivityTimeoutDuration parses ClientFile.InactivityTimeout,
// defaulting to 30s when the field was left blank.
func (c ClientFile) InactivityTimeoutDuration() (time.Duration, error) {
	if strings.TrimSpace(c.InactivityTimeout) == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(c.InactivityTimeout)
	if err != nil {
		return 0, errors.Wrap(ErrInvalid, "inactivity_timeout: "+err.Error())
	}
	return d, nil
}

// applySessionFile overlays the fields raw actually sets onto cfg.
// prefix locates the session table within meta: nil when raw was
// decoded at the document root (LoadSession), []string{"session"}
// when it's a nested table inside a ServerFile/ClientFile.
func applySessionFile(cfg *session.Config, raw SessionFile, meta toml.MetaData, prefix []string) error {
	defined := func(key string) bool {
		return meta.IsDefined(append(append([]string{}, prefix...), key)...)
	}

	if defined("send_buf_capacity") {
		cfg.SendBufCapacity = raw.SendBufCapacity
	}
	if defined("send_buf_threshold") {
		cfg.SendBufThreshold = raw.SendBufThreshold
	}
	if defined("receive_buf_size") {
		cfg.ReceiveBufSize = raw.ReceiveBufSize
	}
	if defined("small_body_size") {
		cfg.SmallBodySize = raw.SmallBodySize
	}
	if defined("max_command_length") {
		cfg.MaxCommandLength = raw.MaxCommandLength
	}
	if defined("backpressure_low") {
		cfg.BackpressureLow = raw.BackpressureLow
	}
	if defined("backpressure_high") {
		cfg.BackpressureHigh = raw.BackpressureHigh
	}
	if strings.TrimSpace(raw.UnbindTimeout) != "" {
		d, err := time.ParseDuration(raw.UnbindTimeout)
		if err != nil {
			return errors.Wrap(ErrInvalid, "unbind_timeout: "+err.Error())
		}
		cfg.UnbindTimeout = d
	}
	if strings.TrimSpace(raw.RequestTimeout) != "" {
		d, err := time.ParseDuration(raw.RequestTimeout)
		if err != nil {
			return errors.Wrap(ErrInvalid, "request_timeout: "+err.Error())
		}
		cfg.RequestTimeout = d
	}
	return nil
}
