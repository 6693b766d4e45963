package cloud

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"vitalguard/internal/config"
	"vitalguard/internal/model"
)

// MQTTSource subscribes to the cloud analysis topic and forwards decoded
// responses on its output channel. The handoff never blocks the paho
// callback goroutine; under backpressure the oldest unread response is
// the one lost.
type MQTTSource struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	out    chan model.CloudMLResponse
	logger *slog.Logger
}

func NewMQTTSource(cfg config.MQTTConfig, logger *slog.Logger) *MQTTSource {
	s := &MQTTSource{
		cfg:    cfg,
		out:    make(chan model.CloudMLResponse, 16),
		logger: logger,
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if s.logger != nil {
				s.logger.Warn("cloud mqtt connection lost", "err", err)
			}
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			if token := c.Subscribe(cfg.Topic, 1, s.handleMessage); token.Wait() && token.Error() != nil {
				if s.logger != nil {
					s.logger.Error("cloud mqtt subscribe failed", "topic", cfg.Topic, "err", token.Error())
				}
			}
		})
	s.client = mqtt.NewClient(opts)
	return s
}

func (s *MQTTSource) Start() error {
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("cloud: mqtt connect: %w", token.Error())
	}
	if s.logger != nil {
		s.logger.Info("cloud mqtt connected", "broker", s.cfg.Broker, "topic", s.cfg.Topic)
	}
	return nil
}

func (s *MQTTSource) Stop() {
	s.client.Disconnect(250)
	close(s.out)
}

func (s *MQTTSource) Responses() <-chan model.CloudMLResponse {
	return s.out
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	resp, err := decodeResponse(msg.Payload())
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("cloud response dropped", "topic", msg.Topic(), "err", err)
		}
		return
	}
	select {
	case s.out <- resp:
	default:
		select {
		case <-s.out:
		default:
		}
		select {
		case s.out <- resp:
		default:
		}
	}
}
