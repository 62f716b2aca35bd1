package broker

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMaxMessageLength matches the channel default of common MQ servers.
const DefaultMaxMessageLength = 4 * 1024 * 1024

// Config describes the development queue manager.
type Config struct {
	QueueManager     string            `yaml:"queue_manager"`
	Channels         []string          `yaml:"channels"`
	Users            map[string]string `yaml:"users"`
	AutoCreate       bool              `yaml:"auto_create"`
	MaxMessageLength int               `yaml:"max_message_length"`
	Queues           []QueueDefinition `yaml:"queues"`
}

// QueueDefinition predefines a queue. Messages put to a queue with ForwardTo
// set land on the target queue instead, which is how echo setups are built.
type QueueDefinition struct {
	Name      string `yaml:"name"`
	MaxDepth  int    `yaml:"max_depth"`
	ForwardTo string `yaml:"forward_to"`
}

// DefaultConfig returns a permissive queue manager named QM1 that creates
// queues on first use.
func DefaultConfig() Config {
	return Config{
		QueueManager:     "QM1",
		AutoCreate:       true,
		MaxMessageLength: DefaultMaxMessageLength,
	}
}

// LoadConfig reads a YAML queue-manager definition on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read broker config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse broker config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks queue definitions for consistency.
func (c Config) Validate() error {
	var issues []string
	if strings.TrimSpace(c.QueueManager) == "" {
		issues = append(issues, "queue_manager is required")
	}
	if c.MaxMessageLength < 0 {
		issues = append(issues, "max_message_length must be >= 0")
	}

	defined := make(map[string]int, len(c.Queues))
	for idx, q := range c.Queues {
		name := strings.TrimSpace(q.Name)
		if name == "" {
			issues = append(issues, fmt.Sprintf("queues[%d]: name is required", idx))
			continue
		}
		if prev, ok := defined[name]; ok {
			issues = append(issues, fmt.Sprintf("queues[%d]: duplicate name also defined at index %d", idx, prev))
			continue
		}
		defined[name] = idx
		if q.MaxDepth < 0 {
			issues = append(issues, fmt.Sprintf("queues[%d]: max_depth must be >= 0", idx))
		}
	}
	for idx, q := range c.Queues {
		target := strings.TrimSpace(q.ForwardTo)
		if target == "" {
			continue
		}
		if target == strings.TrimSpace(q.Name) {
			issues = append(issues, fmt.Sprintf("queues[%d]: forward_to must name a different queue", idx))
			continue
		}
		if _, ok := defined[target]; !ok && !c.AutoCreate {
			issues = append(issues, fmt.Sprintf("queues[%d]: forward_to %q is not defined", idx, target))
		}
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid broker config: %s", strings.Join(issues, "; "))
	}
	return nil
}
