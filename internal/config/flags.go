package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all run flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mqfire run",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all run flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Broker connection flags
	flags.String("transport", string(TransportTCP), "Broker transport: 'tcp', 'websocket', 'redis', or 'kafka'")
	flags.String("host", "", "Broker host")
	flags.Int("port", DefaultPort, "Broker port")
	flags.String("queue-manager", "", "Queue manager name")
	flags.String("channel", "", "Server connection channel")
	flags.String("queue", "", "Queue each iteration writes to")
	flags.String("reply-queue", "", "Queue each iteration reads from (defaults to --queue)")
	flags.String("user", "", "User to authenticate as")
	flags.String("password", "", "Password for --user")
	flags.String("app-name", DefaultAppName, "Application name reported to the broker")
	flags.Duration("connect-timeout", 10*time.Second, "Connect timeout")
	flags.Duration("operation-timeout", 5*time.Second, "Per-operation timeout")
	flags.Int("max-message-length", 0, "Largest message the client will send or accept (0 uses the broker's limit)")
	flags.Bool("tls", false, "Connect with TLS")
	flags.String("tls-ca-file", "", "PEM file with CA certificates to trust")
	flags.String("tls-cert-file", "", "PEM client certificate")
	flags.String("tls-key-file", "", "PEM client key")
	flags.String("tls-server-name", "", "Server name to verify")
	flags.Bool("tls-insecure-skip-verify", false, "Skip broker certificate verification")
	flags.Int("redis-db", 0, "Redis database for the redis transport")
	flags.String("kafka-group-id", "", "Consumer group for the kafka transport (defaults to the channel)")

	// Load control flags
	flags.IntP("vus", "u", 1, "Number of virtual users")
	flags.IntP("rate", "r", 0, "Iterations per second limit (0 means unlimited)")
	flags.DurationP("duration", "d", 0, "How long to run the test (e.g. 30s, 1m)")
	flags.IntP("iterations", "i", 0, "Total number of iterations (0 means unlimited)")
	flags.Duration("graceful-stop", 5*time.Second, "Time in-flight iterations get to finish after the test ends")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model to use when pacing iterations (uniform or poisson)")

	// Script flags
	flags.String("payload", "", "Inline message payload")
	flags.String("payload-file", "", "Path to file containing the message payload")
	flags.String("data-file", "", "CSV or JSON file whose records fill {{field}} placeholders in the payload")
	flags.Int("payload-size", 0, "Size of a generated payload when none is given")
	flags.StringToString("property", nil, "Message property key=value pairs")
	flags.Int("priority", 0, "Message priority (0-9)")
	flags.String("persistence", "", "Message persistence: 'default', 'persistent', or 'non_persistent'")
	flags.Duration("ttl", 0, "Message time-to-live (0 means unlimited)")
	flags.Duration("read-wait", 0, "How long each read waits for a reply (0 uses --operation-timeout)")
	flags.Int("write-attempts", 1, "Attempts per write when the broker does not acknowledge in time")
	flags.Duration("retry-delay", 100*time.Millisecond, "Delay between write attempts")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.Bool("dashboard", false, "Show live terminal dashboard with metrics")
	flags.StringSlice("threshold", nil, "Performance thresholds (repeatable, e.g., 'mq_read_duration:p95 < 50')")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text or json)")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (host:port)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.String("tracing-service-name", "", "Service name reported on spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of operations to sample (0.0-1.0)")
	flags.Bool("tracing-insecure", false, "Export spans without TLS")
	flags.Bool("tracing-propagate", false, "Carry W3C trace context in message properties")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s [flags]\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	b := &cfg.Broker
	stringFlags := []struct {
		name string
		dst  *string
	}{
		{"host", &b.Host},
		{"queue-manager", &b.QueueManager},
		{"channel", &b.Channel},
		{"queue", &b.Queue},
		{"reply-queue", &b.ReplyQueue},
		{"user", &b.User},
		{"password", &b.Password},
		{"app-name", &b.AppName},
		{"tls-ca-file", &b.TLS.CAFile},
		{"tls-cert-file", &b.TLS.CertFile},
		{"tls-key-file", &b.TLS.KeyFile},
		{"tls-server-name", &b.TLS.ServerName},
		{"kafka-group-id", &b.KafkaGroupID},
		{"payload-file", &cfg.Script.PayloadFile},
		{"data-file", &cfg.Script.DataFile},
		{"persistence", &cfg.Script.Persistence},
		{"metrics-addr", &cfg.MetricsAddr},
		{"log-level", &cfg.LogLevel},
		{"log-format", &cfg.LogFormat},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
		{"tracing-protocol", &cfg.Tracing.Protocol},
		{"tracing-service-name", &cfg.Tracing.ServiceName},
	}
	for _, f := range stringFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		*f.dst = strings.TrimSpace(val)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"port", &b.Port},
		{"max-message-length", &b.MaxMessageLength},
		{"redis-db", &b.RedisDB},
		{"vus", &cfg.VUs},
		{"rate", &cfg.Rate},
		{"iterations", &cfg.Iterations},
		{"payload-size", &cfg.Script.PayloadSize},
		{"priority", &cfg.Script.Priority},
		{"write-attempts", &cfg.Script.WriteAttempts},
	}
	for _, f := range ints {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetInt(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"connect-timeout", &b.ConnectTimeout},
		{"operation-timeout", &b.OperationTimeout},
		{"duration", &cfg.Duration},
		{"graceful-stop", &cfg.GracefulStop},
		{"ttl", &cfg.Script.TTL},
		{"read-wait", &cfg.Script.ReadWait},
		{"retry-delay", &cfg.Script.RetryDelay},
	}
	for _, f := range durations {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetDuration(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"tls", &b.TLS.Enabled},
		{"tls-insecure-skip-verify", &b.TLS.InsecureSkipVerify},
		{"json-output", &cfg.JSONOutput},
		{"dashboard", &cfg.Dashboard},
		{"tracing-insecure", &cfg.Tracing.Insecure},
		{"tracing-propagate", &cfg.Tracing.Propagate},
	}
	for _, f := range bools {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetBool(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	if fs.Changed("transport") {
		val, err := fs.GetString("transport")
		if err != nil {
			return err
		}
		b.Transport = Transport(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		cfg.Arrival.Model = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("payload") {
		val, err := fs.GetString("payload")
		if err != nil {
			return err
		}
		cfg.Script.Payload = val
		cfg.Script.PayloadFile = ""
	}
	if fs.Changed("payload-file") {
		cfg.Script.Payload = ""
	}
	if fs.Changed("property") {
		val, err := fs.GetStringToString("property")
		if err != nil {
			return err
		}
		if cfg.Script.Properties == nil {
			cfg.Script.Properties = map[string]string{}
		}
		for k, v := range val {
			key := strings.TrimSpace(k)
			if key == "" {
				return fmt.Errorf("property key cannot be empty")
			}
			cfg.Script.Properties[key] = v
		}
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}

	return nil
}
