package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/ringsync/fault"
	"github.com/unixpickle/ringsync/topology"
)

const yamlConfig = `
training:
  num_epochs: 3
  steps_per_epoch: 20
  learning_rate: 0.01
  run_first_batch: false
distributed:
  num_nodes: 4
  use_localhost: true
  host: 127.0.0.1
  port: 29500
  bandwidth_limit: 12.5
  topology:
    type: ring
logging:
  level: debug
  output_dir: results
`

const jsonConfig = `{
  "training": {"num_epochs": 1, "steps_per_epoch": 5, "learning_rate": 0.1,
               "run_first_batch": true, "parameter_count": 1000},
  "distributed": {"use_localhost": true, "host": "localhost", "port": 1234,
                  "bandwidth_limit": 1, "store_path": "/var/run/ringsync",
                  "topology_config_file": "topo.json"},
  "logging": {"level": "info", "output_dir": "out", "format": "json"}
}`

func writeFile(t *testing.T, dir, name, contents string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", yamlConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Training.NumEpochs)
	assert.Equal(t, 3, cfg.Training.Epochs())
	assert.Equal(t, 20, cfg.Training.StepsPerEpoch)
	assert.Equal(t, uint64(DefaultParameterCount), cfg.Training.ParameterCount)
	assert.Equal(t, 12.5, cfg.Distributed.BandwidthLimit)
	assert.Equal(t, 29500, cfg.Distributed.Port)
	assert.Equal(t, DefaultStorePath, cfg.Distributed.StorePath)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	assert.Equal(t, topology.Config{Type: topology.Ring, NumNodes: 4, Permutations: []int{0}},
		cfg.Topology())
}

func TestTrainingEpochs(t *testing.T) {
	training := Training{NumEpochs: 5, StepsPerEpoch: 2}
	assert.Equal(t, 5, training.Epochs())

	training.RunFirstBatch = true
	assert.Equal(t, 1, training.Epochs())
	assert.Equal(t, 5, training.NumEpochs)
}

func TestLoadJSONWithTopologyFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "topo.json",
		`{"topology_type": "ring", "num_nodes": 8, "permutations": [0, 3, 5]}`)
	path := writeFile(t, dir, "config.json", jsonConfig)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), cfg.Training.ParameterCount)
	assert.True(t, cfg.Training.RunFirstBatch)
	assert.Equal(t, "/var/run/ringsync", cfg.Distributed.StorePath)
	assert.Equal(t, 8, cfg.Distributed.NumNodes)
	assert.Equal(t, "json", cfg.Logging.Format)

	topo := cfg.Topology()
	assert.Equal(t, []int{0, 3, 5}, topo.Permutations)
	topo.Permutations[0] = 7
	assert.Equal(t, []int{0, 3, 5}, cfg.Topology().Permutations)
}

func TestLoadTopologyFileErrors(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "config.json", jsonConfig)
		_, err := Load(path)
		assert.True(t, fault.Is(err, fault.IO), "unexpected error: %v", err)
		assert.True(t, fault.IsMissing(err))
	})
	t.Run("MissingKey", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "topo.json", `{"topology_type": "ring", "num_nodes": 8}`)
		_, err := Load(writeFile(t, dir, "config.json", jsonConfig))
		require.Error(t, err)
		assert.True(t, fault.Is(err, fault.InvalidConfig))
		assert.Contains(t, err.Error(), "missing permutations")
	})
	t.Run("Invalid", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "topo.json",
			`{"topology_type": "hierarchical", "num_nodes": 5, "permutations": [0]}`)
		_, err := Load(writeFile(t, dir, "config.json", jsonConfig))
		assert.True(t, fault.Is(err, fault.InvalidConfig))
	})
}

func TestParseMissingKeys(t *testing.T) {
	cases := map[string]string{
		"NoTraining":     "distributed: {}\nlogging: {}\n",
		"NoEpochs":       "training: {steps_per_epoch: 1, learning_rate: 1, run_first_batch: true}\n",
		"NoBandwidth":    "training: {num_epochs: 1, steps_per_epoch: 1, learning_rate: 1, run_first_batch: true}\ndistributed: {use_localhost: true, host: a, port: 1}\nlogging: {level: info, output_dir: x}\n",
		"NoLoggingLevel": "training: {num_epochs: 1, steps_per_epoch: 1, learning_rate: 1, run_first_batch: true}\ndistributed: {use_localhost: true, host: a, port: 1, bandwidth_limit: 1}\nlogging: {output_dir: x}\n",
		"Malformed":      "training: [1, 2\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Parse([]byte(doc))
			assert.Nil(t, cfg)
			assert.True(t, fault.Is(err, fault.InvalidConfig), "unexpected error: %v", err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, fault.IsMissing(err))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STORE_PATH", "/srv/rendezvous")
	t.Setenv("RINGSYNC_BANDWIDTH_LIMIT", "40")
	t.Setenv("RINGSYNC_LOG_LEVEL", "warning")

	cfg, err := Load(writeFile(t, t.TempDir(), "config.yaml", yamlConfig))
	require.NoError(t, err)
	assert.Equal(t, "/srv/rendezvous", cfg.Distributed.StorePath)
	assert.Equal(t, 40.0, cfg.Distributed.BandwidthLimit)
	assert.Equal(t, "warning", cfg.Logging.Level)

	t.Setenv("RINGSYNC_BANDWIDTH_LIMIT", "fast")
	_, err = Load(writeFile(t, t.TempDir(), "config.yaml", yamlConfig))
	assert.True(t, fault.Is(err, fault.InvalidConfig))

	t.Setenv("RINGSYNC_BANDWIDTH_LIMIT", "0")
	_, err = Load(writeFile(t, t.TempDir(), "config.yaml", yamlConfig))
	assert.True(t, fault.Is(err, fault.InvalidConfig))
}

func TestLoadDotEnv(t *testing.T) {
	const key = "RINGSYNC_DOTENV_CHECK"
	if _, ok := os.LookupEnv(key); ok {
		t.Skipf("%s already set", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	dir := t.TempDir()
	require.NoError(t, LoadDotEnv(filepath.Join(dir, ".env")), "a missing file is fine")

	require.NoError(t, LoadDotEnv(writeFile(t, dir, ".env", key+"=from-file\n")))
	assert.Equal(t, "from-file", os.Getenv(key))

	require.NoError(t, LoadDotEnv(writeFile(t, dir, "other.env", key+"=ignored\n")))
	assert.Equal(t, "from-file", os.Getenv(key), "existing variables win")
}

func TestValidate(t *testing.T) {
	base, err := Parse([]byte(yamlConfig))
	require.NoError(t, err)
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"Epochs":    func(c *Config) { c.Training.NumEpochs = 0 },
		"Steps":     func(c *Config) { c.Training.StepsPerEpoch = -1 },
		"Bandwidth": func(c *Config) { c.Distributed.BandwidthLimit = 0 },
		"Latency":   func(c *Config) { c.Distributed.Latency = -1 },
		"Port":      func(c *Config) { c.Distributed.Port = 70000 },
		"Level":     func(c *Config) { c.Logging.Level = "loud" },
		"Format":    func(c *Config) { c.Logging.Format = "xml" },
		"Nodes":     func(c *Config) { c.topology.NumNodes = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Parse([]byte(yamlConfig))
			require.NoError(t, err)
			mutate(cfg)
			assert.True(t, fault.Is(cfg.Validate(), fault.InvalidConfig))
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := Logging{Level: "debug", Format: "json"}.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger, err = Logging{Level: "info"}.NewLogger()
	require.NoError(t, err)
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	_, err = Logging{Level: "chatty"}.NewLogger()
	assert.True(t, fault.Is(err, fault.InvalidConfig))
}
