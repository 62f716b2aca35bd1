package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestAsString(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{"hello", "hello"},
		{123, "123"},
		{true, "true"},
		{nil, ""},
		{[]byte("bytes"), "bytes"},
	}

	for _, tt := range tests {
		got, err := asString(tt.input)
		if err != nil {
			t.Errorf("asString(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asString(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		input interface{}
		want  int
	}{
		{123, 123},
		{"456", 456},
		{int64(789), 789},
		{float64(10.0), 10},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asInt(tt.input)
		if err != nil {
			t.Errorf("asInt(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asInt(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestAsBool(t *testing.T) {
	tests := []struct {
		input interface{}
		want  bool
	}{
		{true, true},
		{"true", true},
		{"1", true},
		{false, false},
		{"false", false},
		{"0", false},
		{nil, false},
	}

	for _, tt := range tests {
		got, err := asBool(tt.input)
		if err != nil {
			t.Errorf("asBool(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asBool(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsDuration(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{time.Second, time.Second},
		{"1m", time.Minute},
		{10, 10 * time.Second}, // int treated as seconds
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Errorf("asDuration(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsStringSliceKeepsSingleString(t *testing.T) {
	got, err := asStringSlice("mq_op_failed:rate < 0.01")
	if err != nil || len(got) != 1 || got[0] != "mq_op_failed:rate < 0.01" {
		t.Fatalf("asStringSlice(string) = %v, %v", got, err)
	}
	got, err = asStringSlice([]interface{}{"a", 1})
	if err != nil || len(got) != 2 || got[1] != "1" {
		t.Fatalf("asStringSlice(list) = %v, %v", got, err)
	}
}

func TestAsStringMap(t *testing.T) {
	got, err := asStringMap(map[interface{}]interface{}{"region": "eu", "shard": 3})
	if err != nil {
		t.Fatalf("asStringMap() error = %v", err)
	}
	if got["region"] != "eu" || got["shard"] != "3" {
		t.Errorf("asStringMap() = %v", got)
	}
	if _, err := asStringMap(42); err == nil {
		t.Error("asStringMap(42) error = nil, want error")
	}
}

func TestApplyConfigSettings(t *testing.T) {
	cfg := Defaults()
	settings := map[string]interface{}{
		"vus":      10,
		"duration": "5s",
		"broker": map[string]interface{}{
			"host":          "mq.example.com",
			"queue_manager": "QM1",
			"queue":         "DEV.QUEUE.1",
			"tls": map[string]interface{}{
				"enabled":     true,
				"server_name": "mq.example.com",
			},
		},
		"script": map[string]interface{}{
			"properties": map[string]interface{}{
				"region": "eu",
			},
			"persistence": "PERSISTENT",
			"read_wait":   "250ms",
			"data_file":   " users.json ",
		},
	}

	if err := applyConfigSettings(&cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}

	if cfg.VUs != 10 {
		t.Errorf("VUs = %d, want 10", cfg.VUs)
	}
	if cfg.Duration != 5*time.Second {
		t.Errorf("Duration = %v, want 5s", cfg.Duration)
	}
	if cfg.Broker.Host != "mq.example.com" {
		t.Errorf("Broker.Host = %q, want mq.example.com", cfg.Broker.Host)
	}
	if cfg.Broker.QueueManager != "QM1" {
		t.Errorf("Broker.QueueManager = %q, want QM1", cfg.Broker.QueueManager)
	}
	if !cfg.Broker.TLS.Enabled || cfg.Broker.TLS.ServerName != "mq.example.com" {
		t.Errorf("Broker.TLS = %+v", cfg.Broker.TLS)
	}
	if cfg.Broker.Port != DefaultPort {
		t.Errorf("Broker.Port = %d, want default %d", cfg.Broker.Port, DefaultPort)
	}
	if cfg.Script.Properties["region"] != "eu" {
		t.Errorf("Script.Properties[region] = %q, want eu", cfg.Script.Properties["region"])
	}
	if cfg.Script.Persistence != "persistent" {
		t.Errorf("Script.Persistence = %q, want persistent", cfg.Script.Persistence)
	}
	if cfg.Script.ReadWait != 250*time.Millisecond {
		t.Errorf("Script.ReadWait = %v, want 250ms", cfg.Script.ReadWait)
	}
	if cfg.Script.DataFile != "users.json" {
		t.Errorf("Script.DataFile = %q, want users.json", cfg.Script.DataFile)
	}
}

func TestApplyConfigSettingsRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	settings := map[string]interface{}{
		"broker": map[string]interface{}{"port": "not-a-port"},
	}
	if err := applyConfigSettings(&cfg, settings); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := Defaults()
	cfg.Script.Payload = "from-file"

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	configureFlags(fs)

	args := []string{
		"--vus=5",
		"--transport=WebSocket",
		"--payload-file=body.bin",
		"--property=trace=on",
		"--read-wait=2s",
		"--data-file=orders.csv",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if err := applyFlagOverrides(&cfg, fs); err != nil {
		t.Fatalf("applyFlagOverrides() error = %v", err)
	}

	if cfg.VUs != 5 {
		t.Errorf("VUs = %d, want 5", cfg.VUs)
	}
	if cfg.Broker.Transport != TransportWebSocket {
		t.Errorf("Transport = %q, want websocket", cfg.Broker.Transport)
	}
	if cfg.Script.Payload != "" || cfg.Script.PayloadFile != "body.bin" {
		t.Errorf("payload flags not exclusive: payload=%q file=%q", cfg.Script.Payload, cfg.Script.PayloadFile)
	}
	if cfg.Script.Properties["trace"] != "on" {
		t.Errorf("Properties[trace] = %q, want on", cfg.Script.Properties["trace"])
	}
	if cfg.Script.ReadWait != 2*time.Second {
		t.Errorf("ReadWait = %v, want 2s", cfg.Script.ReadWait)
	}
	if cfg.Script.DataFile != "orders.csv" {
		t.Errorf("DataFile = %q, want orders.csv", cfg.Script.DataFile)
	}
	if cfg.Broker.Port != DefaultPort {
		t.Errorf("unchanged flag overrode Port: %d", cfg.Broker.Port)
	}
}

func TestLoaderEnvironment(t *testing.T) {
	loader := Loader{Environ: []string{
		"MQFIRE_HOST=mq.internal",
		"MQFIRE_PORT=1415",
		"MQFIRE_QUEUE_MANAGER=QM2",
		"MQFIRE_TLS=true",
		"MQFIRE_OPERATION_TIMEOUT=750ms",
		"MQFIRE_CHANNEL=",
		"PATH=/usr/bin",
	}}

	cfg, err := loader.Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.Host != "mq.internal" {
		t.Errorf("Host = %q, want mq.internal", cfg.Broker.Host)
	}
	if cfg.Broker.Port != 1415 {
		t.Errorf("Port = %d, want 1415", cfg.Broker.Port)
	}
	if cfg.Broker.QueueManager != "QM2" {
		t.Errorf("QueueManager = %q, want QM2", cfg.Broker.QueueManager)
	}
	if !cfg.Broker.TLS.Enabled {
		t.Error("TLS.Enabled = false, want true")
	}
	if cfg.Broker.OperationTimeout != 750*time.Millisecond {
		t.Errorf("OperationTimeout = %v, want 750ms", cfg.Broker.OperationTimeout)
	}
	if cfg.Broker.Channel != "" {
		t.Errorf("empty variable set Channel = %q", cfg.Broker.Channel)
	}
}

func TestLoaderFlagsBeatEnvironment(t *testing.T) {
	loader := Loader{Environ: []string{"MQFIRE_HOST=from-env", "MQFIRE_QUEUE=Q.ENV"}}

	cfg, err := loader.Load([]string{"--host", "from-flag"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Broker.Host != "from-flag" {
		t.Errorf("Host = %q, want from-flag", cfg.Broker.Host)
	}
	if cfg.Broker.Queue != "Q.ENV" {
		t.Errorf("Queue = %q, want Q.ENV", cfg.Broker.Queue)
	}
}

func TestParseLoadPatterns(t *testing.T) {
	input := []interface{}{
		map[string]interface{}{
			"name":     "ramp-up",
			"type":     "ramp",
			"from_rps": 10,
			"to_rps":   100,
			"duration": "1m",
		},
		map[string]interface{}{
			"type": "step",
			"steps": []interface{}{
				map[string]interface{}{"rps": 5, "duration": "10s"},
			},
		},
	}

	patterns, err := parseLoadPatterns(input)
	if err != nil {
		t.Fatalf("parseLoadPatterns() error = %v", err)
	}

	if len(patterns) != 2 {
		t.Fatalf("len(patterns) = %d, want 2", len(patterns))
	}

	p := patterns[0]
	if p.Name != "ramp-up" {
		t.Errorf("Name = %q, want ramp-up", p.Name)
	}
	if p.Type != LoadPatternTypeRamp {
		t.Errorf("Type = %q, want ramp", p.Type)
	}
	if p.FromRPS != 10 {
		t.Errorf("FromRPS = %d, want 10", p.FromRPS)
	}
	if p.ToRPS != 100 {
		t.Errorf("ToRPS = %d, want 100", p.ToRPS)
	}
	if p.Duration != time.Minute {
		t.Errorf("Duration = %v, want 1m", p.Duration)
	}
	if len(patterns[1].Steps) != 1 || patterns[1].Steps[0].Duration != 10*time.Second {
		t.Errorf("Steps = %+v", patterns[1].Steps)
	}
}

func TestParseArrival(t *testing.T) {
	got, err := parseArrival("Poisson")
	if err != nil || got.Model != ArrivalModelPoisson {
		t.Fatalf("parseArrival(string) = %+v, %v", got, err)
	}
	got, err = parseArrival(map[string]interface{}{"model": "uniform"})
	if err != nil || got.Model != ArrivalModelUniform {
		t.Fatalf("parseArrival(map) = %+v, %v", got, err)
	}
}
