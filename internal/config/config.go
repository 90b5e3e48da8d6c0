// Package config loads and hot-reloads process-wide configuration: a YAML
// file layered with .env and OS environment variable overrides.
package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// TransportConfig describes the KLHDV multicast endpoint.
type TransportConfig struct {
	Group     string `yaml:"group"`
	Port      int    `yaml:"port"`
	Interface string `yaml:"interface"`
}

// GridConfig describes the RPM/MAP accumulation grid.
type GridConfig struct {
	RPMBins []float64 `yaml:"rpm_bins"`
	MAPBins []float64 `yaml:"map_bins"`
}

// VEMathConfig describes the AFR->VE correction policy.
type VEMathConfig struct {
	Version       string             `yaml:"version"` // "v1" or "v2"
	MaxCorrection float64            `yaml:"max_correction"`
	AFRTargets    map[float64]float64 `yaml:"afr_targets"`
	MinSamples    int                `yaml:"min_samples_per_cell"`
}

// ReliabilityConfig describes circuit-breaker/retry/health-monitor defaults.
type ReliabilityConfig struct {
	FailureThreshold int     `yaml:"failure_threshold"`
	SuccessThreshold int     `yaml:"success_threshold"`
	TimeoutMs        int     `yaml:"timeout_ms"`
	RetryMaxAttempts int     `yaml:"retry_max_attempts"`
	RetryBaseMs      int     `yaml:"retry_base_ms"`
	RetryMultiplier  float64 `yaml:"retry_multiplier"`
	RetryCapMs       int     `yaml:"retry_cap_ms"`
	HealthHistory    int     `yaml:"health_history"`
}

// LiveQueueConfig describes the aggregation queue's window and ring size.
type LiveQueueConfig struct {
	WindowMs int `yaml:"window_ms"`
	Capacity int `yaml:"capacity"`
}

// SimulatorConfig toggles the physics simulator and its multiplicative
// torque factors.
type SimulatorConfig struct {
	Enabled              bool    `yaml:"enabled"`
	DisplacementCI       float64 `yaml:"displacement_ci"`
	Cylinders            int     `yaml:"cylinders"`
	Stoich               float64 `yaml:"stoich"`
	ThrottleLagPctPerSec float64 `yaml:"throttle_lag_pct_per_sec"`
	EnableKnock          bool    `yaml:"enable_knock"`
	EnableThermal        bool    `yaml:"enable_thermal"`
	EnablePumpingLoss    bool    `yaml:"enable_pumping_loss"`
	EnableAirDensity     bool    `yaml:"enable_air_density"`
}

// OrchestratorConfig describes closed-loop convergence guards.
type OrchestratorConfig struct {
	MaxIterations            int     `yaml:"max_iterations"`
	ConvergenceThresholdAFR  float64 `yaml:"convergence_threshold_afr"`
	ConvergenceCellPct       float64 `yaml:"convergence_cell_pct"`
	MaxCorrectionPerIter     float64 `yaml:"max_correction_per_iteration"`
	OscillationEnabled       bool    `yaml:"oscillation_enabled"`
	OscillationThreshold     float64 `yaml:"oscillation_threshold"`
	IterationTimeoutSec      int     `yaml:"iteration_timeout_sec"`
}

// LoggingConfig controls autotune export directory layout.
type LoggingConfig struct {
	RunsDir string `yaml:"runs_dir"`
}

// Config is the full process configuration tree.
type Config struct {
	Transport    TransportConfig    `yaml:"transport"`
	Grid         GridConfig         `yaml:"grid"`
	VEMath       VEMathConfig       `yaml:"ve_math"`
	Reliability  ReliabilityConfig  `yaml:"reliability"`
	LiveQueue    LiveQueueConfig    `yaml:"live_queue"`
	Simulator    SimulatorConfig    `yaml:"simulator"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DefaultConfig returns a config with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{Group: "224.0.2.10", Port: 22344, Interface: ""},
		Grid: GridConfig{
			RPMBins: []float64{1500, 2000, 2500, 3000, 3500, 4000, 4500, 5000, 5500, 6000, 6500},
			MAPBins: []float64{20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		VEMath: VEMathConfig{
			Version:       "v2",
			MaxCorrection: 0.15,
			MinSamples:    3,
			AFRTargets: map[float64]float64{
				20: 14.7, 30: 14.7, 40: 14.5, 50: 14.0, 60: 13.5,
				70: 13.0, 80: 12.8, 90: 12.5, 100: 12.2,
			},
		},
		Reliability: ReliabilityConfig{
			FailureThreshold: 5, SuccessThreshold: 2, TimeoutMs: 30_000,
			RetryMaxAttempts: 5, RetryBaseMs: 250, RetryMultiplier: 2.0, RetryCapMs: 10_000,
			HealthHistory: 50,
		},
		LiveQueue: LiveQueueConfig{WindowMs: 50, Capacity: 256},
		Simulator: SimulatorConfig{
			Enabled: true, DisplacementCI: 114.0, Cylinders: 2, Stoich: 14.7,
			ThrottleLagPctPerSec: 300, EnableKnock: true, EnableThermal: true,
			EnablePumpingLoss: true, EnableAirDensity: true,
		},
		Orchestrator: OrchestratorConfig{
			MaxIterations: 10, ConvergenceThresholdAFR: 0.3, ConvergenceCellPct: 0.9,
			MaxCorrectionPerIter: 0.15, OscillationEnabled: true, OscillationThreshold: 0.2,
			IterationTimeoutSec: 60,
		},
		Logging: LoggingConfig{RunsDir: "runs"},
	}
}

// Store holds the live, hot-reloadable config behind an atomic pointer so
// readers never observe a partially-applied reload.
type Store struct {
	path string
	val  atomic.Pointer[Config]
}

// Load reads config from a YAML file, applies .env and environment variable
// overrides, and returns a Store. Falls back to defaults if the file is
// absent or fails to parse.
func Load(path string) *Store {
	s := &Store{path: path}
	s.val.Store(loadOnce(path))
	return s
}

func loadOnce(path string) *Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}
	applyEnvOverrides(cfg)
	return cfg
}

// Get returns the current config snapshot. Safe for concurrent use.
func (s *Store) Get() *Config { return s.val.Load() }

// Watch starts an fsnotify watcher on the config file's directory and
// hot-swaps the Store's value on writes. It runs until stop is closed.
func (s *Store) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				log.Printf("[config] reload triggered by %s", ev.Name)
				s.val.Store(loadOnce(s.path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[config] watch error: %v", err)
			}
		}
	}()
	return nil
}

func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads DYNOTUNE_* environment variables and overrides
// config values. Documented knobs: DYNOTUNE_MCAST_GROUP, DYNOTUNE_MCAST_PORT,
// DYNOTUNE_IFACE, DYNOTUNE_VE_VERSION, DYNOTUNE_MAX_CORRECTION,
// DYNOTUNE_RUNS_DIR.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("DYNOTUNE_MCAST_GROUP"); v != "" {
		c.Transport.Group = v
	}
	if v := os.Getenv("DYNOTUNE_MCAST_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transport.Port = n
		}
	}
	if v := os.Getenv("DYNOTUNE_IFACE"); v != "" {
		c.Transport.Interface = v
	}
	if v := os.Getenv("DYNOTUNE_VE_VERSION"); v != "" {
		c.VEMath.Version = v
	}
	if v := os.Getenv("DYNOTUNE_MAX_CORRECTION"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.VEMath.MaxCorrection = n
		}
	}
	if v := os.Getenv("DYNOTUNE_RUNS_DIR"); v != "" {
		c.Logging.RunsDir = v
	}
}
