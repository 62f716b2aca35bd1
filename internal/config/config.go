package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Transport string

const (
	TransportTCP       Transport = "tcp"
	TransportWebSocket Transport = "websocket"
	TransportRedis     Transport = "redis"
	TransportKafka     Transport = "kafka"
)

type Config struct {
	Broker       BrokerConfig  `mapstructure:"broker"`
	Script       ScriptConfig  `mapstructure:"script"`
	VUs          int           `mapstructure:"vus"`
	Rate         int           `mapstructure:"rate"`
	Duration     time.Duration `mapstructure:"duration"`
	Iterations   int           `mapstructure:"iterations"`
	GracefulStop time.Duration `mapstructure:"graceful_stop"`
	LoadPatterns []LoadPattern `mapstructure:"load_patterns"`
	Arrival      ArrivalConfig `mapstructure:"arrival"`
	Thresholds   []string      `mapstructure:"thresholds"`
	JSONOutput   bool          `mapstructure:"json_output"`
	Dashboard    bool          `mapstructure:"dashboard"`
	MetricsAddr  string        `mapstructure:"metrics_addr"`
	LogLevel     string        `mapstructure:"log_level"`
	LogFormat    string        `mapstructure:"log_format"`
	Tracing      TracingConfig `mapstructure:"tracing"`
	ConfigFile   string        `mapstructure:"-"`
}

// BrokerConfig describes how every VU connects to the broker.
type BrokerConfig struct {
	Transport        Transport     `mapstructure:"transport"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	QueueManager     string        `mapstructure:"queue_manager"`
	Channel          string        `mapstructure:"channel"`
	Queue            string        `mapstructure:"queue"`
	ReplyQueue       string        `mapstructure:"reply_queue"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	AppName          string        `mapstructure:"app_name"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	MaxMessageLength int           `mapstructure:"max_message_length"`
	TLS              TLSConfig     `mapstructure:"tls"`
	RedisDB          int           `mapstructure:"redis_db"`
	KafkaGroupID     string        `mapstructure:"kafka_group_id"`
}

type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CAFile             string `mapstructure:"ca_file"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	ServerName         string `mapstructure:"server_name"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// ScriptConfig tunes the echo script.
type ScriptConfig struct {
	Payload       string            `mapstructure:"payload"`
	PayloadFile   string            `mapstructure:"payload_file"`
	DataFile      string            `mapstructure:"data_file"`
	PayloadSize   int               `mapstructure:"payload_size"`
	Properties    map[string]string `mapstructure:"properties"`
	Priority      int               `mapstructure:"priority"`
	Persistence   string            `mapstructure:"persistence"`
	TTL           time.Duration     `mapstructure:"ttl"`
	ReadWait      time.Duration     `mapstructure:"read_wait"`
	WriteAttempts int               `mapstructure:"write_attempts"`
	RetryDelay    time.Duration     `mapstructure:"retry_delay"`
}

// TracingConfig configures OpenTelemetry export and propagation.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   bool    `mapstructure:"propagate"`
}

// Enabled reports whether spans should be created at all.
func (t TracingConfig) Enabled() bool {
	return t.Endpoint != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || t.Propagate
}

// ShouldPropagate reports whether trace context travels in message properties.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Propagate
}

type LoadPatternType string

const (
	LoadPatternTypeRamp  LoadPatternType = "ramp"
	LoadPatternTypeStep  LoadPatternType = "step"
	LoadPatternTypeSpike LoadPatternType = "spike"
)

type LoadPattern struct {
	Name     string          `mapstructure:"name"`
	Type     LoadPatternType `mapstructure:"type"`
	FromRPS  int             `mapstructure:"from_rps"`
	ToRPS    int             `mapstructure:"to_rps"`
	Duration time.Duration   `mapstructure:"duration"`
	Steps    []LoadStep      `mapstructure:"steps"`
	RPS      int             `mapstructure:"rps"`
}

type LoadStep struct {
	RPS      int           `mapstructure:"rps"`
	Duration time.Duration `mapstructure:"duration"`
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type ArrivalConfig struct {
	Model ArrivalModel `mapstructure:"model"`
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if c.Rate > 1000 {
		fmt.Fprintf(os.Stderr, "WARNING: High rate limit configured (%d iterations/s). Ensure you have authorization to load the target broker.\n", c.Rate)
	}
	if c.VUs > 500 {
		fmt.Fprintf(os.Stderr, "WARNING: High VU count configured (%d). Each VU holds its own broker connection.\n", c.VUs)
	}

	if c.VUs < 1 {
		issues = append(issues, "vus must be >= 1")
	}
	if c.Dashboard && c.JSONOutput {
		issues = append(issues, "dashboard and json-output are mutually exclusive")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.Iterations < 0 {
		issues = append(issues, "iterations must be >= 0")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}
	if c.GracefulStop < 0 {
		issues = append(issues, "graceful_stop must be >= 0")
	}

	issues = append(issues, validateBroker(c.Broker)...)
	issues = append(issues, validateScript(c.Script)...)
	issues = append(issues, validateArrivalConfig(c.Arrival)...)
	issues = append(issues, validateLoadPatterns(c.LoadPatterns)...)
	issues = append(issues, validateTracing(c.Tracing)...)

	if c.Broker.TLS.InsecureSkipVerify {
		fmt.Fprintln(os.Stderr, "WARNING: broker TLS verification is DISABLED (insecure_skip_verify: true). Use this only against test brokers.")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}

	return nil
}

func validateBroker(b BrokerConfig) []string {
	var issues []string
	switch b.Transport {
	case TransportTCP, TransportWebSocket, TransportRedis, TransportKafka:
	default:
		issues = append(issues, fmt.Sprintf("broker: transport must be 'tcp', 'websocket', 'redis', or 'kafka', got %q", b.Transport))
	}
	if strings.TrimSpace(b.Host) == "" {
		issues = append(issues, "broker: host is required (use --help for usage information)")
	}
	if b.Port < 1 || b.Port > 65535 {
		issues = append(issues, fmt.Sprintf("broker: port %d is out of range", b.Port))
	}
	if (b.Transport == TransportTCP || b.Transport == TransportWebSocket) && strings.TrimSpace(b.QueueManager) == "" {
		issues = append(issues, "broker: queue_manager is required for the native transports")
	}
	if (b.Transport == TransportTCP || b.Transport == TransportWebSocket) && strings.TrimSpace(b.Channel) == "" {
		issues = append(issues, "broker: channel is required for the native transports")
	}
	if strings.TrimSpace(b.Queue) == "" {
		issues = append(issues, "broker: queue is required")
	}
	if b.ConnectTimeout < 0 {
		issues = append(issues, "broker: connect_timeout must be >= 0")
	}
	if b.OperationTimeout < 0 {
		issues = append(issues, "broker: operation_timeout must be >= 0")
	}
	if b.MaxMessageLength < 0 {
		issues = append(issues, "broker: max_message_length must be >= 0")
	}
	if b.Password != "" && b.User == "" {
		issues = append(issues, "broker: password given without user")
	}
	if (b.TLS.CertFile == "") != (b.TLS.KeyFile == "") {
		issues = append(issues, "broker: tls cert_file and key_file must be provided together")
	}
	return issues
}

func validateScript(s ScriptConfig) []string {
	var issues []string
	if s.Payload != "" && strings.TrimSpace(s.PayloadFile) != "" {
		issues = append(issues, "script: payload and payload_file are mutually exclusive")
	}
	if s.PayloadSize < 0 {
		issues = append(issues, "script: payload_size must be >= 0")
	}
	if s.Priority < 0 || s.Priority > 9 {
		issues = append(issues, fmt.Sprintf("script: priority must be between 0 and 9, got %d", s.Priority))
	}
	switch strings.ToLower(s.Persistence) {
	case "", "default", "persistent", "non_persistent":
	default:
		issues = append(issues, fmt.Sprintf("script: persistence must be 'default', 'persistent', or 'non_persistent', got %q", s.Persistence))
	}
	if s.TTL < 0 {
		issues = append(issues, "script: ttl must be >= 0")
	}
	if s.WriteAttempts < 0 {
		issues = append(issues, "script: write_attempts must be >= 0")
	}
	if s.RetryDelay < 0 {
		issues = append(issues, "script: retry_delay must be >= 0")
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	return issues
}

func validateArrivalConfig(arr ArrivalConfig) []string {
	model := arr.Model
	if model == "" {
		model = ArrivalModelUniform
	}
	switch model {
	case ArrivalModelUniform, ArrivalModelPoisson:
		return nil
	default:
		return []string{fmt.Sprintf("arrival model %q is not supported", model)}
	}
}

func validateLoadPatterns(patterns []LoadPattern) []string {
	var issues []string
	for idx, pattern := range patterns {
		typeLabel := strings.TrimSpace(string(pattern.Type))
		if typeLabel == "" {
			issues = append(issues, fmt.Sprintf("loadPatterns[%d]: type is required", idx))
			continue
		}
		switch LoadPatternType(strings.ToLower(typeLabel)) {
		case LoadPatternTypeRamp:
			if pattern.Duration <= 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: duration must be > 0 for ramp", idx))
			}
			if pattern.FromRPS < 0 || pattern.ToRPS < 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: from_rps and to_rps must be >= 0", idx))
			}
		case LoadPatternTypeStep:
			if len(pattern.Steps) == 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: steps are required for step pattern", idx))
			}
			for stepIdx, step := range pattern.Steps {
				if step.RPS < 0 {
					issues = append(issues, fmt.Sprintf("loadPatterns[%d].steps[%d]: rps must be >= 0", idx, stepIdx))
				}
				if step.Duration <= 0 {
					issues = append(issues, fmt.Sprintf("loadPatterns[%d].steps[%d]: duration must be > 0", idx, stepIdx))
				}
			}
		case LoadPatternTypeSpike:
			if pattern.RPS <= 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: rps must be > 0 for spike", idx))
			}
			if pattern.Duration <= 0 {
				issues = append(issues, fmt.Sprintf("loadPatterns[%d]: duration must be > 0 for spike", idx))
			}
		default:
			issues = append(issues, fmt.Sprintf("loadPatterns[%d]: unsupported type %q", idx, pattern.Type))
		}
	}
	return issues
}
