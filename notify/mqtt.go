package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/BaSui01/roadmapflow/internal/tlsutil"
)

// MQTTConfig MQTT 推送配置
type MQTTConfig struct {
	BrokerURL   string        `yaml:"broker_url" env:"BROKER_URL"`
	ClientID    string        `yaml:"client_id" env:"CLIENT_ID"`
	Username    string        `yaml:"username" env:"USERNAME"`
	Password    string        `yaml:"password" env:"PASSWORD"`
	TopicPrefix string        `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
	QoS         byte          `yaml:"qos" env:"QOS"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// mqttPublisher 是 paho.Client 的发布子集
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// MQTTNotifier 把事件推送到 {prefix}/{task_id}/events
type MQTTNotifier struct {
	mu      sync.Mutex
	client  mqttPublisher
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *zap.Logger
}

// ConnectTimeoutError indicates connection timed out.
type ConnectTimeoutError struct{}

func (e *ConnectTimeoutError) Error() string {
	return "mqtt connect timeout"
}

// NewMQTTClient creates and connects a paho client.
func NewMQTTClient(cfg MQTTConfig) (paho.Client, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	if tlsCfg := tlsutil.ForBrokerURL(cfg.BrokerURL); tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, &ConnectTimeoutError{}
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.BrokerURL, err)
	}
	return client, nil
}

// NewMQTTNotifier 创建 MQTT Notifier
func NewMQTTNotifier(client mqttPublisher, cfg MQTTConfig, logger *zap.Logger) Notifier {
	return notifier{sink: newMQTTSink(client, cfg, logger)}
}

func newMQTTSink(client mqttPublisher, cfg MQTTConfig, logger *zap.Logger) *MQTTNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.TrimRight(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "roadmapflow/tasks"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTNotifier{
		client:  client,
		prefix:  prefix,
		qos:     cfg.QoS,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "mqtt_notifier")),
	}
}

// Topic returns the topic used for taskID.
func (n *MQTTNotifier) Topic(taskID string) string {
	return n.prefix + "/" + taskID + "/events"
}

func (n *MQTTNotifier) publish(ctx context.Context, e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	token := n.client.Publish(n.Topic(e.TaskID), n.qos, false, e.Marshal())
	if !token.WaitTimeout(n.timeout) {
		n.logger.Warn("mqtt publish timeout", zap.String("task_id", e.TaskID))
		return
	}
	if err := token.Error(); err != nil {
		n.logger.Warn("mqtt publish failed", zap.String("task_id", e.TaskID), zap.Error(err))
	}
}
