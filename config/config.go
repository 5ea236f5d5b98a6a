// Package config loads the run configuration of a
// synchronization job.
//
// Files are YAML; JSON files load as well, since the
// parser accepts JSON documents.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/unixpickle/ringsync/fault"
	"github.com/unixpickle/ringsync/topology"
	"gopkg.in/yaml.v2"
)

const (
	// DefaultStorePath is where the file store lives when
	// neither the config nor STORE_PATH names a directory.
	DefaultStorePath = "/tmp/ringsync"

	// DefaultParameterCount is the float32 parameter count
	// of AlexNet, used when training.parameter_count is
	// not set.
	DefaultParameterCount = 61_100_840
)

// Config is the whole configuration file.
type Config struct {
	Training    Training    `yaml:"training" json:"training"`
	Distributed Distributed `yaml:"distributed" json:"distributed"`
	Logging     Logging     `yaml:"logging" json:"logging"`

	topology topology.Config
}

// Training holds the step and epoch counts.
type Training struct {
	NumEpochs      int     `yaml:"num_epochs" json:"num_epochs"`
	StepsPerEpoch  int     `yaml:"steps_per_epoch" json:"steps_per_epoch"`
	LearningRate   float64 `yaml:"learning_rate" json:"learning_rate"`
	RunFirstBatch  bool    `yaml:"run_first_batch" json:"run_first_batch"`
	ParameterCount uint64  `yaml:"parameter_count" json:"parameter_count"`
}

// Epochs returns the number of epochs to run.
// RunFirstBatch limits a run to a single epoch.
func (t Training) Epochs() int {
	if t.RunFirstBatch {
		return 1
	}
	return t.NumEpochs
}

// Distributed describes the cluster.
type Distributed struct {
	NumNodes     int    `yaml:"num_nodes" json:"num_nodes"`
	UseLocalhost bool   `yaml:"use_localhost" json:"use_localhost"`
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`

	// BandwidthLimit is in GB/s.
	BandwidthLimit float64 `yaml:"bandwidth_limit" json:"bandwidth_limit"`

	// Latency is the simulated per-message latency in
	// seconds.
	Latency float64 `yaml:"latency" json:"latency"`

	CeilingBytes        uint64 `yaml:"ceiling_bytes" json:"ceiling_bytes"`
	DistributeRemainder bool   `yaml:"distribute_remainder" json:"distribute_remainder"`

	StorePath string `yaml:"store_path" json:"store_path"`

	Topology struct {
		Type topology.Kind `yaml:"type" json:"type"`
	} `yaml:"topology" json:"topology"`

	// TopologyConfigFile names a separate topology file. It
	// takes precedence over NumNodes and Topology, and a
	// relative path is resolved against the directory of
	// the main file.
	TopologyConfigFile string `yaml:"topology_config_file" json:"topology_config_file"`
}

// Logging configures the logger.
type Logging struct {
	Level     string `yaml:"level" json:"level"`
	Format    string `yaml:"format" json:"format"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`
}

var requiredKeys = map[string][]string{
	"training":    {"num_epochs", "steps_per_epoch", "learning_rate", "run_first_batch"},
	"distributed": {"use_localhost", "host", "port", "bandwidth_limit"},
	"logging":     {"level", "output_dir"},
}

var requiredTopologyKeys = []string{"num_nodes", "topology_type", "permutations"}

// Load reads and validates the file at path, applying
// environment overrides on top of it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.IOFailure("read", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if file := cfg.Distributed.TopologyConfigFile; file != "" {
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), file)
		}
		if err := cfg.loadTopologyFile(file); err != nil {
			return nil, err
		}
	}
	if err := FromEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a configuration document without reading
// the topology file or the environment.
func Parse(data []byte) (*Config, error) {
	var raw map[string]map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fault.Invalid("malformed configuration: %v", err)
	}
	for _, section := range []string{"training", "distributed", "logging"} {
		values, ok := raw[section]
		if !ok {
			return nil, fault.Invalid("missing %s config", section)
		}
		for _, key := range requiredKeys[section] {
			if _, ok := values[key]; !ok {
				return nil, fault.Invalid("missing %s.%s", section, key)
			}
		}
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fault.Invalid("malformed configuration: %v", err)
	}
	cfg.setDefaults()
	cfg.topology = topology.Config{
		Type:         cfg.Distributed.Topology.Type,
		NumNodes:     cfg.Distributed.NumNodes,
		Permutations: []int{0},
	}
	return cfg, nil
}

// Topology returns the topology the file describes. It is
// a single ring unless a topology file says otherwise.
func (c *Config) Topology() topology.Config {
	res := c.topology
	res.Permutations = append([]int{}, c.topology.Permutations...)
	return res
}

func (c *Config) loadTopologyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fault.IOFailure("read", path, err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fault.Invalid("malformed topology config %s: %v", path, err)
	}
	for _, key := range requiredTopologyKeys {
		if _, ok := raw[key]; !ok {
			return fault.Invalid("missing %s in topology config %s", key, path)
		}
	}
	var topo topology.Config
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return fault.Invalid("malformed topology config %s: %v", path, err)
	}
	c.topology = topo
	c.Distributed.NumNodes = topo.NumNodes
	c.Distributed.Topology.Type = topo.Type
	return nil
}

func (c *Config) setDefaults() {
	if c.Training.ParameterCount == 0 {
		c.Training.ParameterCount = DefaultParameterCount
	}
	if c.Distributed.Topology.Type == "" {
		c.Distributed.Topology.Type = topology.Ring
	}
	if c.Distributed.StorePath == "" {
		c.Distributed.StorePath = DefaultStorePath
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// LoadDotEnv loads variables from an env file into the
// process environment. A missing file is not an error.
// Variables that are already set win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fault.IOFailure("load", path, err)
	}
	return nil
}

// FromEnv applies environment overrides.
func FromEnv(c *Config) error {
	if v := os.Getenv("STORE_PATH"); v != "" {
		c.Distributed.StorePath = v
	}
	if v := os.Getenv("RINGSYNC_BANDWIDTH_LIMIT"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fault.Invalid("parse RINGSYNC_BANDWIDTH_LIMIT %q: %v", v, err)
		}
		c.Distributed.BandwidthLimit = limit
	}
	if v := os.Getenv("RINGSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RINGSYNC_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Training.NumEpochs <= 0 {
		return fault.Invalid("num_epochs must be positive, got %d", c.Training.NumEpochs)
	}
	if c.Training.StepsPerEpoch <= 0 {
		return fault.Invalid("steps_per_epoch must be positive, got %d", c.Training.StepsPerEpoch)
	}
	if c.Distributed.BandwidthLimit <= 0 {
		return fault.Invalid("bandwidth_limit must be positive, got %f", c.Distributed.BandwidthLimit)
	}
	if c.Distributed.Latency < 0 {
		return fault.Invalid("latency must not be negative, got %f", c.Distributed.Latency)
	}
	if c.Distributed.Port < 0 || c.Distributed.Port > 65535 {
		return fault.Invalid("port %d out of range", c.Distributed.Port)
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fault.Invalid("logging level: %v", err)
	}
	if f := strings.ToLower(c.Logging.Format); f != "text" && f != "json" {
		return fault.Invalid("unsupported logging format %q", c.Logging.Format)
	}
	return c.topology.Validate()
}

// NewLogger creates the logger the Logging section asks
// for, writing to stderr.
func (l Logging) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, fault.Invalid("logging level: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	if strings.ToLower(l.Format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
