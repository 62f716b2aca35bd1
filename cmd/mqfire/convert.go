package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/torosent/mqfire/internal/config"
	"github.com/torosent/mqfire/internal/dashboard"
	"github.com/torosent/mqfire/internal/feeder"
	"github.com/torosent/mqfire/internal/mq"
	"github.com/torosent/mqfire/internal/runner"
	"github.com/torosent/mqfire/internal/script"
)

func toConnectionConfig(b config.BrokerConfig) mq.ConnectionConfig {
	return mq.ConnectionConfig{
		Transport:        mq.TransportKind(b.Transport),
		Host:             b.Host,
		Port:             b.Port,
		QueueManager:     b.QueueManager,
		Channel:          b.Channel,
		Queue:            b.Queue,
		ReplyQueue:       b.ReplyQueue,
		User:             b.User,
		Password:         b.Password,
		AppName:          b.AppName,
		ConnectTimeout:   b.ConnectTimeout,
		OperationTimeout: b.OperationTimeout,
		MaxMessageLength: b.MaxMessageLength,
		TLS: mq.TLSConfig{
			Enabled:            b.TLS.Enabled,
			CAFile:             b.TLS.CAFile,
			CertFile:           b.TLS.CertFile,
			KeyFile:            b.TLS.KeyFile,
			ServerName:         b.TLS.ServerName,
			InsecureSkipVerify: b.TLS.InsecureSkipVerify,
		},
	}
}

func toEchoOptions(s config.ScriptConfig) (script.EchoOptions, error) {
	opts := script.EchoOptions{
		PayloadSize: s.PayloadSize,
		Properties:  s.Properties,
		Priority:    s.Priority,
		Persistence: toPersistence(s.Persistence),
		TTL:         s.TTL,
		ReadWait:    s.ReadWait,
		RetryDelay:  s.RetryDelay,
	}
	if s.WriteAttempts > 0 {
		opts.WriteAttempts = uint(s.WriteAttempts)
	}
	switch {
	case s.Payload != "":
		opts.Payload = []byte(s.Payload)
	case s.PayloadFile != "":
		data, err := os.ReadFile(s.PayloadFile)
		if err != nil {
			return script.EchoOptions{}, fmt.Errorf("payload file: %w", err)
		}
		opts.Payload = data
	}
	if s.DataFile != "" {
		f, err := feeder.Open(s.DataFile)
		if err != nil {
			return script.EchoOptions{}, err
		}
		opts.Feeder = f
	}
	return opts, nil
}

func dashboardInfo(cfg config.Config) dashboard.RunInfo {
	return dashboard.RunInfo{
		Target:           fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		Transport:        string(cfg.Broker.Transport),
		QueueManager:     cfg.Broker.QueueManager,
		Queue:            cfg.Broker.Queue,
		ReplyQueue:       cfg.Broker.ReplyQueue,
		VUs:              cfg.VUs,
		Duration:         cfg.Duration,
		Iterations:       cfg.Iterations,
		Rate:             cfg.Rate,
		OperationTimeout: cfg.Broker.OperationTimeout,
		WriteAttempts:    cfg.Script.WriteAttempts,
		ConfigFile:       cfg.ConfigFile,
	}
}

func toPersistence(p string) mq.Persistence {
	switch strings.ToLower(p) {
	case "persistent":
		return mq.Persistent
	case "non_persistent":
		return mq.NonPersistent
	default:
		return mq.PersistenceDefault
	}
}

func toRunnerArrivalModel(model config.ArrivalModel) runner.ArrivalModel {
	switch strings.ToLower(string(model)) {
	case string(config.ArrivalModelPoisson):
		return runner.ArrivalModelPoisson
	default:
		return runner.ArrivalModelUniform
	}
}

func toRunnerLoadPatterns(patterns []config.LoadPattern) []runner.LoadPattern {
	if len(patterns) == 0 {
		return nil
	}
	result := make([]runner.LoadPattern, len(patterns))
	for i, p := range patterns {
		result[i] = runner.LoadPattern{
			Name:     p.Name,
			Type:     runner.LoadPatternType(strings.ToLower(string(p.Type))),
			FromRPS:  p.FromRPS,
			ToRPS:    p.ToRPS,
			Duration: p.Duration,
			Steps:    toRunnerLoadSteps(p.Steps),
			RPS:      p.RPS,
		}
	}
	return result
}

func toRunnerLoadSteps(steps []config.LoadStep) []runner.LoadStep {
	if len(steps) == 0 {
		return nil
	}
	result := make([]runner.LoadStep, len(steps))
	for i, s := range steps {
		result[i] = runner.LoadStep{
			RPS:      s.RPS,
			Duration: s.Duration,
		}
	}
	return result
}
