package ingest

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"vitalguard/internal/config"
)

// MQTTSource relays encrypted packets published by the companion app. The
// subscription covers one level below the base topic; the final topic
// segment carries the originating characteristic UUID, e.g.
// vitalguard/frames/0000ecg1-0000-1000-8000-00805f9b34fb.
type MQTTSource struct {
	cfg     config.MQTTConfig
	client  mqtt.Client
	adapter *Adapter
	logger  *slog.Logger
}

func NewMQTTSource(cfg config.MQTTConfig, adapter *Adapter, logger *slog.Logger) *MQTTSource {
	s := &MQTTSource{cfg: cfg, adapter: adapter, logger: logger}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if s.logger != nil {
				s.logger.Warn("device mqtt connection lost", "err", err)
			}
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			filter := cfg.Topic + "/+"
			if token := c.Subscribe(filter, 1, s.handleMessage); token.Wait() && token.Error() != nil {
				if s.logger != nil {
					s.logger.Error("device mqtt subscribe failed", "filter", filter, "err", token.Error())
				}
			}
		})
	s.client = mqtt.NewClient(opts)
	return s
}

func (s *MQTTSource) Start() error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("ingest: mqtt connect: %w", token.Error())
	}
	if s.logger != nil {
		s.logger.Info("device mqtt connected", "broker", s.cfg.Broker)
	}
	return nil
}

func (s *MQTTSource) Stop() {
	s.client.Disconnect(250)
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	characteristic := topic[strings.LastIndexByte(topic, '/')+1:]
	s.adapter.OnPacket(characteristic, msg.Payload())
}
