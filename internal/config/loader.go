package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultPort    = 1414
	DefaultAppName = "mqfire"
	EnvPrefix      = "MQFIRE"
)

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"broker.transport":                EnvPrefix + "_TRANSPORT",
	"broker.host":                     EnvPrefix + "_HOST",
	"broker.port":                     EnvPrefix + "_PORT",
	"broker.queue_manager":            EnvPrefix + "_QUEUE_MANAGER",
	"broker.channel":                  EnvPrefix + "_CHANNEL",
	"broker.queue":                    EnvPrefix + "_QUEUE",
	"broker.reply_queue":              EnvPrefix + "_REPLY_QUEUE",
	"broker.user":                     EnvPrefix + "_USER",
	"broker.password":                 EnvPrefix + "_PASSWORD",
	"broker.app_name":                 EnvPrefix + "_APP_NAME",
	"broker.connect_timeout":          EnvPrefix + "_CONNECT_TIMEOUT",
	"broker.operation_timeout":        EnvPrefix + "_OPERATION_TIMEOUT",
	"broker.max_message_length":       EnvPrefix + "_MAX_MESSAGE_LENGTH",
	"broker.tls.enabled":              EnvPrefix + "_TLS",
	"broker.tls.ca_file":              EnvPrefix + "_TLS_CA_FILE",
	"broker.tls.cert_file":            EnvPrefix + "_TLS_CERT_FILE",
	"broker.tls.key_file":             EnvPrefix + "_TLS_KEY_FILE",
	"broker.tls.server_name":          EnvPrefix + "_TLS_SERVER_NAME",
	"broker.tls.insecure_skip_verify": EnvPrefix + "_TLS_INSECURE_SKIP_VERIFY",
	"log_level":                       EnvPrefix + "_LOG_LEVEL",
	"log_format":                      EnvPrefix + "_LOG_FORMAT",
}

// Loader handles loading configuration from files, the environment and
// command-line arguments.
type Loader struct {
	// Environ lists KEY=VALUE pairs to read MQFIRE_ variables from. Nil
	// reads the process environment.
	Environ []string
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Defaults returns the configuration used before any file, variable or flag
// is applied.
func Defaults() Config {
	return Config{
		VUs:          1,
		GracefulStop: 5 * time.Second,
		Arrival:      ArrivalConfig{Model: ArrivalModelUniform},
		LogLevel:     "info",
		LogFormat:    "text",
		Broker: BrokerConfig{
			Transport:        TransportTCP,
			Port:             DefaultPort,
			AppName:          DefaultAppName,
			ConnectTimeout:   10 * time.Second,
			OperationTimeout: 5 * time.Second,
		},
		Script: ScriptConfig{
			WriteAttempts: 1,
			RetryDelay:    100 * time.Millisecond,
		},
		Tracing: TracingConfig{
			Protocol:   "grpc",
			SampleRate: 1.0,
		},
	}
}

// Load parses command-line arguments, MQFIRE_ environment variables and
// configuration files to produce a Config. Flags win over the environment,
// which wins over the file.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	env := l.environ()

	// With nothing to go on, show help/usage.
	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" && len(env) == 0 {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	for key, name := range envBindings {
		if val, ok := env[name]; ok {
			cfgViper.Set(key, val)
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(&cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Broker.Host = strings.TrimSpace(cfg.Broker.Host)
	cfg.Script.PayloadFile = strings.TrimSpace(cfg.Script.PayloadFile)
	cfg.Script.DataFile = strings.TrimSpace(cfg.Script.DataFile)

	return &cfg, nil
}

// environ returns the MQFIRE_ variables that are set and non-empty.
func (l Loader) environ() map[string]string {
	source := l.Environ
	if source == nil {
		source = os.Environ()
	}
	env := map[string]string{}
	for _, kv := range source {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix+"_") || val == "" {
			continue
		}
		env[name] = val
	}
	return env
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "broker"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("broker: %w", err)
		}
		if err := applyBrokerSettings(&cfg.Broker, entry); err != nil {
			return fmt.Errorf("broker: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "script"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("script: %w", err)
		}
		if err := applyScriptSettings(&cfg.Script, entry); err != nil {
			return fmt.Errorf("script: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		if err := applyTracingSettings(&cfg.Tracing, entry); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	ints := []struct {
		dst  *int
		keys []string
	}{
		{&cfg.VUs, []string{"vus"}},
		{&cfg.Rate, []string{"rate"}},
		{&cfg.Iterations, []string{"iterations"}},
	}
	for _, f := range ints {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		cfg.Duration = dur
	}

	if raw, ok := lookupSetting(settings, "gracefulstop", "graceful_stop", "graceful-stop"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("gracefulStop: %w", err)
		}
		cfg.GracefulStop = dur
	}

	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("jsonOutput: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "dashboard"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}

	strs := []struct {
		dst  *string
		keys []string
	}{
		{&cfg.MetricsAddr, []string{"metricsaddr", "metrics_addr", "metrics-addr"}},
		{&cfg.LogLevel, []string{"loglevel", "log_level", "log-level"}},
		{&cfg.LogFormat, []string{"logformat", "log_format", "log-format"}},
	}
	for _, f := range strs {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[1], err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "loadpatterns", "load_patterns", "load-patterns"); ok {
		patterns, err := parseLoadPatterns(raw)
		if err != nil {
			return fmt.Errorf("loadPatterns: %w", err)
		}
		cfg.LoadPatterns = patterns
	}

	if raw, ok := lookupSetting(settings, "arrival"); ok {
		arrival, err := parseArrival(raw)
		if err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
		if arrival.Model != "" {
			cfg.Arrival = arrival
		}
	} else if raw, ok := lookupSetting(settings, "arrivalmodel", "arrival_model", "arrival-model"); ok {
		arrival, err := parseArrival(raw)
		if err != nil {
			return fmt.Errorf("arrivalModel: %w", err)
		}
		if arrival.Model != "" {
			cfg.Arrival = arrival
		}
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	return nil
}

func applyBrokerSettings(b *BrokerConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "transport"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("transport: %w", err)
		}
		b.Transport = Transport(strings.ToLower(strings.TrimSpace(val)))
	}

	strs := []struct {
		dst  *string
		keys []string
	}{
		{&b.Host, []string{"host"}},
		{&b.QueueManager, []string{"queuemanager", "queue_manager", "queue-manager"}},
		{&b.Channel, []string{"channel"}},
		{&b.Queue, []string{"queue"}},
		{&b.ReplyQueue, []string{"replyqueue", "reply_queue", "reply-queue"}},
		{&b.User, []string{"user"}},
		{&b.Password, []string{"password"}},
		{&b.AppName, []string{"appname", "app_name", "app-name"}},
		{&b.KafkaGroupID, []string{"kafkagroupid", "kafka_group_id", "kafka-group-id"}},
	}
	for _, f := range strs {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}

	ints := []struct {
		dst  *int
		keys []string
	}{
		{&b.Port, []string{"port"}},
		{&b.MaxMessageLength, []string{"maxmessagelength", "max_message_length", "max-message-length"}},
		{&b.RedisDB, []string{"redisdb", "redis_db", "redis-db"}},
	}
	for _, f := range ints {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = val
		}
	}

	durations := []struct {
		dst  *time.Duration
		keys []string
	}{
		{&b.ConnectTimeout, []string{"connecttimeout", "connect_timeout", "connect-timeout"}},
		{&b.OperationTimeout, []string{"operationtimeout", "operation_timeout", "operation-timeout"}},
	}
	for _, f := range durations {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			dur, err := asDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = dur
		}
	}

	if raw, ok := lookupSetting(settings, "tls"); ok {
		tls, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("tls: %w", err)
		}
		if err := applyTLSSettings(&b.TLS, tls); err != nil {
			return fmt.Errorf("tls: %w", err)
		}
	}
	return nil
}

func applyTLSSettings(t *TLSConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "enabled"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("enabled: %w", err)
		}
		t.Enabled = val
	}
	if raw, ok := lookupSetting(settings, "insecureskipverify", "insecure_skip_verify", "insecure-skip-verify"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure_skip_verify: %w", err)
		}
		t.InsecureSkipVerify = val
	}
	strs := []struct {
		dst  *string
		keys []string
	}{
		{&t.CAFile, []string{"cafile", "ca_file", "ca-file"}},
		{&t.CertFile, []string{"certfile", "cert_file", "cert-file"}},
		{&t.KeyFile, []string{"keyfile", "key_file", "key-file"}},
		{&t.ServerName, []string{"servername", "server_name", "server-name"}},
	}
	for _, f := range strs {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[1], err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}
	return nil
}

func applyScriptSettings(s *ScriptConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "payload"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("payload: %w", err)
		}
		s.Payload = val
	}
	if raw, ok := lookupSetting(settings, "payloadfile", "payload_file", "payload-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("payload_file: %w", err)
		}
		s.PayloadFile = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "datafile", "data_file", "data-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("data_file: %w", err)
		}
		s.DataFile = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "persistence"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("persistence: %w", err)
		}
		s.Persistence = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "properties"); ok {
		props, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("properties: %w", err)
		}
		s.Properties = props
	}

	ints := []struct {
		dst  *int
		keys []string
	}{
		{&s.PayloadSize, []string{"payloadsize", "payload_size", "payload-size"}},
		{&s.Priority, []string{"priority"}},
		{&s.WriteAttempts, []string{"writeattempts", "write_attempts", "write-attempts"}},
	}
	for _, f := range ints {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = val
		}
	}

	durations := []struct {
		dst  *time.Duration
		keys []string
	}{
		{&s.TTL, []string{"ttl"}},
		{&s.ReadWait, []string{"readwait", "read_wait", "read-wait"}},
		{&s.RetryDelay, []string{"retrydelay", "retry_delay", "retry-delay"}},
	}
	for _, f := range durations {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			dur, err := asDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = dur
		}
	}
	return nil
}

func applyTracingSettings(t *TracingConfig, settings map[string]interface{}) error {
	strs := []struct {
		dst  *string
		keys []string
	}{
		{&t.Endpoint, []string{"endpoint"}},
		{&t.Protocol, []string{"protocol"}},
		{&t.ServiceName, []string{"servicename", "service_name", "service-name"}},
	}
	for _, f := range strs {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = val
	}
	return nil
}

func parseLoadPatterns(value interface{}) ([]LoadPattern, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	patterns := make([]LoadPattern, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		pattern, err := buildLoadPattern(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

func buildLoadPattern(settings map[string]interface{}) (LoadPattern, error) {
	var pattern LoadPattern
	if raw, ok := lookupSetting(settings, "name"); ok {
		val, err := asString(raw)
		if err != nil {
			return LoadPattern{}, fmt.Errorf("name: %w", err)
		}
		pattern.Name = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "type"); ok {
		val, err := asString(raw)
		if err != nil {
			return LoadPattern{}, fmt.Errorf("type: %w", err)
		}
		pattern.Type = LoadPatternType(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupSetting(settings, "fromrps", "from_rps", "from-rps"); ok {
		val, err := asInt(raw)
		if err != nil {
			return LoadPattern{}, fmt.Errorf("from_rps: %w", err)
		}
		pattern.FromRPS = val
	}
	if raw, ok := lookupSetting(settings, "torps", "to_rps", "to-rps"); ok {
		val, err := asInt(raw)
		if err != nil {
			return LoadPattern{}, fmt.Errorf("to_rps: %w", err)
		}
		pattern.ToRPS = val
	}
	if raw, ok := lookupSetting(settings, "duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return LoadPattern{}, fmt.Errorf("duration: %w", err)
		}
		pattern.Duration = dur
	}
	if raw, ok := lookupSetting(settings, "steps"); ok {
		steps, err := parseLoadSteps(raw)
		if err != nil {
			return LoadPattern{}, fmt.Errorf("steps: %w", err)
		}
		pattern.Steps = steps
	}
	if raw, ok := lookupSetting(settings, "rps"); ok {
		val, err := asInt(raw)
		if err != nil {
			return LoadPattern{}, fmt.Errorf("rps: %w", err)
		}
		pattern.RPS = val
	}
	return pattern, nil
}

func parseLoadSteps(value interface{}) ([]LoadStep, error) {
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	steps := make([]LoadStep, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		var step LoadStep
		if raw, ok := lookupSetting(entry, "rps"); ok {
			val, err := asInt(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d rps: %w", idx, err)
			}
			step.RPS = val
		}
		if raw, ok := lookupSetting(entry, "duration"); ok {
			dur, err := asDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("index %d duration: %w", idx, err)
			}
			step.Duration = dur
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseArrival(value interface{}) (ArrivalConfig, error) {
	switch v := value.(type) {
	case nil:
		return ArrivalConfig{}, nil
	case string:
		return ArrivalConfig{Model: ArrivalModel(strings.ToLower(strings.TrimSpace(v)))}, nil
	default:
		entry, err := toStringKeyMap(value)
		if err != nil {
			return ArrivalConfig{}, err
		}
		var arrival ArrivalConfig
		if raw, ok := lookupSetting(entry, "model"); ok {
			val, err := asString(raw)
			if err != nil {
				return ArrivalConfig{}, fmt.Errorf("model: %w", err)
			}
			arrival.Model = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
		}
		return arrival, nil
	}
}
