// Package mqttapi is the optional MQTT ingestion transport from spec
// §4.9 (supplemented from the teacher, which ingests solely over MQTT):
// it subscribes one location topic and forwards every message to the
// same Processor/Accumulator pipeline the HTTP adapter uses.
//
// Grounded on the teacher's internal/ingestion/mqtt_client.go
// (MQTTIngestionClient's Start/Stop idempotency guard and per-topic
// handler registration), trimmed to the single topic this gateway cares
// about and reusing pkg/mqtt.Client unchanged.
package mqttapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"gps-ingest-gateway/internal/logger"
	"gps-ingest-gateway/internal/position"
	"gps-ingest-gateway/internal/processor"
	pkgmqtt "gps-ingest-gateway/pkg/mqtt"
)

// Submitter is the accumulator-facing dependency.
type Submitter interface {
	Submit(pos position.Position)
}

// Config bundles the MQTT connection and topic parameters.
type Config struct {
	ClientConfig  *pkgmqtt.Config
	LocationTopic string
	QoS           byte
}

// Processor is the subset of internal/processor.Processor this package
// depends on.
type Processor interface {
	Process(raw position.RawPosition) (processor.Result, error)
}

// Adapter subscribes cfg.LocationTopic and feeds every message through
// processor then accumulator.
type Adapter struct {
	cfg       Config
	client    *pkgmqtt.Client
	processor Processor
	accum     Submitter

	mu      sync.Mutex
	started bool
}

// New builds an Adapter. It does not connect; call Start.
func New(cfg Config, processor Processor, accum Submitter) *Adapter {
	return &Adapter{
		cfg:       cfg,
		client:    pkgmqtt.NewClient(cfg.ClientConfig),
		processor: processor,
		accum:     accum,
	}
}

// Start connects to the broker and subscribes the location topic.
func (a *Adapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}
	if a.cfg.LocationTopic == "" {
		return errors.New("mqttapi: no location topic configured")
	}

	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("mqttapi: connect: %w", err)
	}
	if err := a.client.Subscribe(a.cfg.LocationTopic, a.cfg.QoS, a.handleMessage); err != nil {
		a.client.Disconnect()
		return fmt.Errorf("mqttapi: subscribe %s: %w", a.cfg.LocationTopic, err)
	}

	a.started = true
	logger.Info("mqtt ingestion started", zap.String("topic", a.cfg.LocationTopic))
	return nil
}

// Stop unsubscribes and disconnects, idempotently.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return
	}
	if err := a.client.Unsubscribe(a.cfg.LocationTopic); err != nil {
		logger.Warn("mqtt unsubscribe failed", zap.Error(err))
	}
	a.client.Disconnect()
	a.started = false
}

func (a *Adapter) handleMessage(topic string, payload []byte) {
	var raw position.RawPosition
	if err := json.Unmarshal(payload, &raw); err != nil {
		logger.Warn("mqtt payload not valid JSON", zap.String("topic", topic), zap.Error(err))
		return
	}

	res, err := a.processor.Process(raw)
	if err != nil {
		logger.Warn("mqtt position rejected", zap.String("topic", topic), zap.Error(err))
		return
	}
	if res.Outcome == processor.OutcomeDuplicate {
		return
	}

	a.accum.Submit(res.Position)
}
