package core

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config drives device selection and the tunables of the submission engine.
// It is usually loaded from an anima.toml file next to the executable.
type Config struct {
	Driver     string         `toml:"driver"`
	LogLevel   string         `toml:"log_level"`
	Validation bool           `toml:"validation"`
	Queue      QueueConfig    `toml:"queue"`
	Jobs       JobsConfig     `toml:"jobs"`
	Listener   ListenerConfig `toml:"listener"`
	Library    LibraryConfig  `toml:"library"`
}

type QueueConfig struct {
	// Number of command buffers a queue can have in flight.
	MaxCommandBufferCount int `toml:"max_command_buffer_count"`
	// Descriptor sets per native descriptor pool; the queue chains more pools when one runs dry.
	DescriptorSetsPerPool int    `toml:"descriptor_sets_per_pool"`
	FenceTimeout          string `toml:"fence_timeout"`
}

type JobsConfig struct {
	Workers int `toml:"workers"`
	Backlog int `toml:"backlog"`
}

type ListenerConfig struct {
	PollInterval    string `toml:"poll_interval"`
	MaxPollInterval string `toml:"max_poll_interval"`
}

type LibraryConfig struct {
	Directory string `toml:"directory"`
	Watch     bool   `toml:"watch"`
}

func DefaultConfig() *Config {
	return &Config{
		Driver:   "vulkan",
		LogLevel: "info",
		Queue: QueueConfig{
			MaxCommandBufferCount: 16,
			DescriptorSetsPerPool: 256,
			FenceTimeout:          "1s",
		},
		Jobs: JobsConfig{
			Workers: 4,
			Backlog: 64,
		},
		Listener: ListenerConfig{
			PollInterval:    "1ms",
			MaxPollInterval: "16ms",
		},
	}
}

// LoadConfig reads a TOML file. Fields missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Queue.MaxCommandBufferCount <= 0 {
		return fmt.Errorf("queue.max_command_buffer_count must be positive, got %d", c.Queue.MaxCommandBufferCount)
	}
	if c.Queue.DescriptorSetsPerPool <= 0 {
		return fmt.Errorf("queue.descriptor_sets_per_pool must be positive, got %d", c.Queue.DescriptorSetsPerPool)
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be positive, got %d", c.Jobs.Workers)
	}
	for name, d := range map[string]string{
		"queue.fence_timeout":        c.Queue.FenceTimeout,
		"listener.poll_interval":     c.Listener.PollInterval,
		"listener.max_poll_interval": c.Listener.MaxPollInterval,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) FenceTimeout() time.Duration {
	return mustDuration(c.Queue.FenceTimeout, time.Second)
}

func (c *Config) PollInterval() time.Duration {
	return mustDuration(c.Listener.PollInterval, time.Millisecond)
}

func (c *Config) MaxPollInterval() time.Duration {
	return mustDuration(c.Listener.MaxPollInterval, 16*time.Millisecond)
}

func mustDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
