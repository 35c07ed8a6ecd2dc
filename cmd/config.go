// Package cmd provides the shared bootstrap utilities that back every
// HDS binary: config loading, fail-fast error handling, and graceful
// shutdown on signal. Grounded on boulder's own cmd package — "the idea
// is to make the specific command files very small" — adapted from
// JSON+AMQP-shaped config to a flat YAML config matching a single-process
// directory service instead of boulder's fleet of AMQP-connected RPC
// services.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Half-Shot/hds/blog"
)

// ServiceConfig is the block every HDS service embeds for its listener
// and debug/metrics address, mirroring boulder's ServiceConfig.
type ServiceConfig struct {
	ListenAddress string `yaml:"listenAddress"`
	DebugAddr     string `yaml:"debugAddr"`
}

// Config is the top-level HDS directory configuration, loaded from a
// single YAML file.
type Config struct {
	Directory struct {
		ServiceConfig `yaml:",inline"`

		// KeyPath is the PEM-encoded RSA private key location for this
		// directory's own identity.
		KeyPath string `yaml:"keyPath"`

		// DBDriver/DBDSN select the SQL backend (mysql or sqlite3) and its
		// connection string.
		DBDriver string `yaml:"dbDriver"`
		DBDSN    string `yaml:"dbDSN"`

		Host         string `yaml:"host"`
		Name         string `yaml:"name"`
		ContactName  string `yaml:"contactName"`
		ContactEmail string `yaml:"contactEmail"`
		DirectoryURL string `yaml:"directoryURL"`

		TTL           ConfigDuration `yaml:"ttl"`
		RegisterHosts []string       `yaml:"registerHosts"`

		Debug bool `yaml:"debug"`
	}
}

// ConfigDuration is time.Duration with YAML (de)serialization as a
// human-readable string ("1h", "90s"), matching boulder's ConfigDuration.
type ConfigDuration struct {
	time.Duration
}

// ErrDurationMustBeString is returned when a non-string value is found
// where a ConfigDuration was expected.
var ErrDurationMustBeString = errors.New("cannot YAML unmarshal something other than a string into a ConfigDuration")

func (d *ConfigDuration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return ErrDurationMustBeString
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ReadConfigFile reads and parses a YAML config file into out.
func ReadConfigFile(filename string, out interface{}) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

// FailOnError logs msg and err via logger, if non-nil, then exits 1.
func FailOnError(logger blog.Logger, err error, msg string) {
	if err == nil {
		return
	}
	if logger != nil {
		logger.AuditErr(fmt.Sprintf("%s: %s", msg, err))
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", msg, err)
	os.Exit(1)
}

var signalToName = map[os.Signal]string{
	syscall.SIGTERM: "SIGTERM",
	syscall.SIGINT:  "SIGINT",
	syscall.SIGHUP:  "SIGHUP",
}

// CatchSignals blocks until SIGTERM, SIGINT, or SIGHUP is received, logs
// which one, runs callback, then returns (the caller decides whether to
// exit), matching the shape of boulder's CatchSignals but handing control
// back instead of calling os.Exit so http.Server.Shutdown can run first.
func CatchSignals(logger blog.Logger, callback func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	sig := <-sigChan
	if logger != nil {
		logger.Info(fmt.Sprintf("caught %s", signalToName[sig]))
	}
	if callback != nil {
		callback()
	}
}
