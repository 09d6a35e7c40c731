// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the flowplaned HCL configuration.
package config

import (
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/flowplane/internal/errors"
	"grimm.is/flowplane/internal/flowtable"
)

// Config is the top-level flowplaned configuration.
type Config struct {
	Listen        string `hcl:"listen,optional" json:"listen,omitempty"`
	LogLevel      string `hcl:"log_level,optional" json:"log_level,omitempty"`
	GCInterval    string `hcl:"gc_interval,optional" json:"gc_interval,omitempty"`
	Metrics       bool   `hcl:"metrics,optional" json:"metrics,omitempty"`
	KernelOffload bool   `hcl:"kernel_offload,optional" json:"kernel_offload,omitempty"`

	// Devices, when set, replaces netlink device resolution with a static
	// list. Meant for tests and non-Linux hosts.
	Devices []string `hcl:"devices,optional" json:"devices,omitempty"`

	Namespaces []Namespace `hcl:"namespace,block" json:"namespace,omitempty"`
}

// Namespace declares a namespace and the tables created in it at startup.
type Namespace struct {
	Name   string  `hcl:"name,label" json:"name"`
	Tables []Table `hcl:"table,block" json:"table,omitempty"`
}

// Table declares a table and the flow tables created in it at startup.
type Table struct {
	Name       string      `hcl:"name,label" json:"name"`
	Family     string      `hcl:"family,optional" json:"family,omitempty"`
	Flowtables []Flowtable `hcl:"flowtable,block" json:"flowtable,omitempty"`
}

// Flowtable declares a flow table to create at startup.
type Flowtable struct {
	Name     string   `hcl:"name,label" json:"name"`
	Hook     uint32   `hcl:"hook,optional" json:"hook,omitempty"`
	Priority int32    `hcl:"priority,optional" json:"priority,omitempty"`
	Devices  []string `hcl:"devices" json:"devices"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:     ":9909",
		LogLevel:   "info",
		GCInterval: "1s",
		Metrics:    true,
	}
}

// Load reads and validates an HCL configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to read config file")
	}
	return LoadBytes(path, data)
}

// LoadBytes decodes and validates configuration from bytes. The filename is
// used for diagnostics and must carry an .hcl extension.
func LoadBytes(filename string, data []byte) (*Config, error) {
	cfg := Default()
	if err := hclsimple.Decode(filename, data, nil, cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints hclsimple cannot express.
func (c *Config) Validate() error {
	if _, err := c.GCIntervalDuration(); err != nil {
		return err
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Errorf(errors.KindValidation, "unknown log_level %q", c.LogLevel)
	}
	seen := map[string]bool{}
	for _, ns := range c.Namespaces {
		if ns.Name == "" {
			return errors.New(errors.KindValidation, "namespace label must not be empty")
		}
		if seen[ns.Name] {
			return errors.Errorf(errors.KindValidation, "duplicate namespace %q", ns.Name)
		}
		seen[ns.Name] = true
		tables := map[string]bool{}
		for _, t := range ns.Tables {
			if t.Name == "" {
				return errors.Errorf(errors.KindValidation, "table label must not be empty in namespace %q", ns.Name)
			}
			if tables[t.Name] {
				return errors.Errorf(errors.KindValidation, "duplicate table %q in namespace %q", t.Name, ns.Name)
			}
			tables[t.Name] = true
			if t.Family != "" {
				if _, err := flowtable.ParseFamily(t.Family); err != nil {
					return err
				}
			}
			for _, ft := range t.Flowtables {
				if ft.Name == "" {
					return errors.Errorf(errors.KindValidation, "flowtable label must not be empty in table %q", t.Name)
				}
				if len(ft.Devices) == 0 {
					return errors.Errorf(errors.KindValidation, "flowtable %q must bind at least one device", ft.Name)
				}
			}
		}
	}
	return nil
}

// GCIntervalDuration parses the gc_interval string, defaulting when unset.
func (c *Config) GCIntervalDuration() (time.Duration, error) {
	if c.GCInterval == "" {
		return flowtable.DefaultGCInterval, nil
	}
	d, err := time.ParseDuration(c.GCInterval)
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindValidation, "invalid gc_interval %q", c.GCInterval)
	}
	if d <= 0 {
		return 0, errors.Errorf(errors.KindValidation, "gc_interval must be positive, got %q", c.GCInterval)
	}
	return d, nil
}

// TableFamily resolves a table's declared family, defaulting to IPv4.
func (t *Table) TableFamily() flowtable.Family {
	if t.Family == "" {
		return flowtable.FamilyIPv4
	}
	fam, err := flowtable.ParseFamily(t.Family)
	if err != nil {
		return flowtable.FamilyIPv4
	}
	return fam
}
