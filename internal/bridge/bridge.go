// Package bridge connects the handset's telephony stack to the service over
// MQTT. Call, audio and call-log reports feed the switchboard and the call
// history; commands flow back on the device's command topic.
package bridge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitea.jw6.us/james/dialer/internal/calllog"
	"gitea.jw6.us/james/dialer/internal/calls"
	"gitea.jw6.us/james/dialer/internal/contacts"
)

const (
	qos            = byte(1)
	publishTimeout = 3 * time.Second
	connectTimeout = 5 * time.Second
	lookupTimeout  = 500 * time.Millisecond
	maxConnectTry  = 5
)

var (
	// ErrNotConnected is returned by Send while the broker is unreachable.
	ErrNotConnected = errors.New("mqtt broker not connected")
	// ErrPublishTimeout is returned when the broker does not acknowledge a command in time.
	ErrPublishTimeout = errors.New("mqtt publish timed out")
)

// Config holds the broker settings.
type Config struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	DeviceID    string
}

// Topics are the per-device MQTT topics.
type Topics struct {
	Calls    string
	Audio    string
	CallLog  string
	Commands string
}

// NewTopics builds the topic set "<prefix>/<device>/...".
func NewTopics(prefix, device string) Topics {
	base := strings.Trim(prefix, "/") + "/" + device
	return Topics{
		Calls:    base + "/calls",
		Audio:    base + "/audio",
		CallLog:  base + "/calllog",
		Commands: base + "/commands",
	}
}

// Recorder persists finished calls.
type Recorder interface {
	Record(ctx context.Context, rec calllog.Record) error
}

// CallerLookup resolves caller names for calls reported without one.
type CallerLookup interface {
	Lookup(ctx context.Context, number string) (contacts.Match, error)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithRecorder enables call-log ingestion.
func WithRecorder(r Recorder) Option {
	return func(b *Bridge) { b.recorder = r }
}

// WithCallerLookup fills in display names of new calls.
func WithCallerLookup(l CallerLookup) Option {
	return func(b *Bridge) { b.lookup = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClient replaces the paho client, e.g. with a test double.
func WithClient(c mqtt.Client) Option {
	return func(b *Bridge) { b.client = c }
}

// Bridge is the MQTT transport between the handset and the switchboard. It
// implements calls.Device.
type Bridge struct {
	cfg      Config
	topics   Topics
	client   mqtt.Client
	sb       *calls.Switchboard
	recorder Recorder
	lookup   CallerLookup
	logger   *zap.Logger

	connected atomic.Bool
	baseCtx   context.Context
	stop      context.CancelFunc
}

var _ calls.Device = (*Bridge)(nil)

// New builds a Bridge feeding sb and registers it as the switchboard's device.
func New(cfg Config, sb *calls.Switchboard, opts ...Option) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg:     cfg,
		topics:  NewTopics(cfg.TopicPrefix, cfg.DeviceID),
		sb:      sb,
		logger:  zap.NewNop(),
		baseCtx: ctx,
		stop:    cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		b.client = mqtt.NewClient(b.clientOptions())
	}
	sb.SetDevice(b)
	return b
}

// Topics returns the topics this bridge uses.
func (b *Bridge) Topics() Topics {
	return b.topics
}

func (b *Bridge) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.BrokerURL)
	// Unique suffix so several service instances can share a broker.
	opts.SetClientID(fmt.Sprintf("%s-%s", b.cfg.ClientID, uuid.NewString()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	if strings.HasPrefix(b.cfg.BrokerURL, "ssl://") || strings.HasPrefix(b.cfg.BrokerURL, "tls://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		b.logger.Debug("unhandled mqtt message", zap.String("topic", msg.Topic()))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.connected.Store(false)
		b.logger.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		b.connected.Store(true)
		b.logger.Info("mqtt connected", zap.String("broker", b.cfg.BrokerURL))
		if err := b.subscribe(); err != nil {
			b.logger.Error("mqtt subscribe failed", zap.Error(err))
		}
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		b.logger.Info("mqtt reconnecting")
	})
	return opts
}

// Connect dials the broker, retrying with exponential backoff.
func (b *Bridge) Connect(ctx context.Context) error {
	if b.client.IsConnected() {
		return nil
	}
	var err error
	for attempt := 0; attempt < maxConnectTry; attempt++ {
		token := b.client.Connect()
		if token.WaitTimeout(connectTimeout) && token.Error() == nil {
			b.connected.Store(true)
			return nil
		}
		err = token.Error()
		if err == nil {
			err = errors.New("connect timed out")
		}
		backoff := time.Duration(1<<attempt) * time.Second
		b.logger.Warn("mqtt connect failed",
			zap.Int("attempt", attempt+1),
			zap.Duration("retry_in", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("connect to %s after %d attempts: %w", b.cfg.BrokerURL, maxConnectTry, err)
}

// Close disconnects from the broker and abandons in-flight handlers.
func (b *Bridge) Close() {
	b.stop()
	if b.client.IsConnected() {
		b.client.Disconnect(250)
	}
	b.connected.Store(false)
}

func (b *Bridge) subscribe() error {
	handlers := map[string]mqtt.MessageHandler{
		b.topics.Calls:   b.onMessage(b.HandleCallEvent),
		b.topics.Audio:   b.onMessage(b.HandleAudio),
		b.topics.CallLog: b.onMessage(b.HandleCallLog),
	}
	for topic, handler := range handlers {
		if token := b.client.Subscribe(topic, qos, handler); token.Wait() && token.Error() != nil {
			return fmt.Errorf("subscribe %s: %w", topic, token.Error())
		}
		b.logger.Debug("mqtt subscribed", zap.String("topic", topic))
	}
	return nil
}

func (b *Bridge) onMessage(handle func(ctx context.Context, payload []byte) error) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		if err := handle(b.baseCtx, msg.Payload()); err != nil {
			b.logger.Warn("dropping mqtt message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	}
}

// Send publishes a command to the handset and waits for the broker ack.
func (b *Bridge) Send(cmd calls.Command) error {
	if !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	payload, err := encodeCommand(cmd, time.Now())
	if err != nil {
		return err
	}
	token := b.client.Publish(b.topics.Commands, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", cmd.Action, err)
	}
	b.logger.Debug("command sent",
		zap.String("action", string(cmd.Action)),
		zap.String("call_id", cmd.CallID),
	)
	return nil
}
