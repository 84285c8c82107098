package telemetry

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig MQTT 连接配置
type MQTTConfig struct {
	Broker         string // tcp://host:1883
	ClientID       string
	TopicPrefix    string
	ConnectTimeout time.Duration
}

// MQTTPublisher 将遥测发布到 MQTT，并订阅遥控指令
type MQTTPublisher struct {
	logger *zap.Logger
	client mqtt.Client
	prefix string
	subs   map[string]func([]byte)
}

// NewMQTTPublisher 连接 broker。连接超时不视为错误，客户端会在后台重连。
// subs 的键为相对主题，重连后自动重新订阅。
func NewMQTTPublisher(cfg MQTTConfig, logger *zap.Logger, subs map[string]func([]byte)) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "swervegazer"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	p := &MQTTPublisher{
		logger: logger,
		prefix: strings.TrimSuffix(cfg.TopicPrefix, "/"),
		subs:   subs,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		logger.Warn("MQTT broker not reachable yet, retrying in background", zap.String("broker", cfg.Broker))
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, err)
	}
	return p, nil
}

func (p *MQTTPublisher) onConnect(c mqtt.Client) {
	p.logger.Info("Connected to MQTT broker")
	for topic, handler := range p.subs {
		handler := handler
		full := p.Topic(topic)
		token := c.Subscribe(full, 0, func(_ mqtt.Client, msg mqtt.Message) {
			handler(msg.Payload())
		})
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				p.logger.Error("MQTT subscribe failed", zap.String("topic", full), zap.Error(err))
				return
			}
			p.logger.Info("Subscribed to MQTT topic", zap.String("topic", full))
		}()
	}
}

// Topic 加上前缀的完整主题
func (p *MQTTPublisher) Topic(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "/" + topic
}

// Publish 以 QoS 0 发布，不等待确认
func (p *MQTTPublisher) Publish(topic string, payload []byte) {
	if !p.client.IsConnectionOpen() {
		return
	}
	p.client.Publish(p.Topic(topic), 0, false, payload)
}

// Close 断开连接
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
