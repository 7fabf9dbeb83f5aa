// Package telemetry publishes playback statistics to an MQTT broker while a
// streaming session runs. It is optional and advisory: publish failures are
// logged and the stream is never disturbed.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// PlaybackStats is the JSON payload published on each interval.
type PlaybackStats struct {
	Session string    `json:"session"`
	Time    time.Time `json:"time"`
	Sent    int64     `json:"frames_sent"`
	Dropped int64     `json:"frames_dropped"`
	FPS     float64   `json:"target_fps"`
}

// Publisher periodically publishes PlaybackStats for one session.
type Publisher struct {
	client  mqtt.Client
	topic   string
	session string
	log     *slog.Logger
}

// New connects to broker (host:port) and returns a publisher with a fresh
// session identifier.
func New(broker, topic string) (*Publisher, error) {
	session := uuid.NewString()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", broker))
	opts.SetClientID("beestream-" + session[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("telemetry: mqtt connection timeout to %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: mqtt connect: %w", err)
	}

	return &Publisher{
		client:  client,
		topic:   topic,
		session: session,
		log:     slog.Default(),
	}, nil
}

// Session returns the per-session identifier included in every payload.
func (p *Publisher) Session() string {
	return p.session
}

// Publish sends one stats payload. Failures are logged, not returned; the
// stream must not care.
func (p *Publisher) Publish(sent, dropped int64, fps float64) {
	payload, err := json.Marshal(PlaybackStats{
		Session: p.session,
		Time:    time.Now().UTC(),
		Sent:    sent,
		Dropped: dropped,
		FPS:     fps,
	})
	if err != nil {
		p.log.Warn("telemetry payload marshal failed", "error", err)
		return
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Debug("telemetry publish failed", "error", err)
		}
	}()
}

// Run publishes stats every interval until the context is done, then
// disconnects.
func (p *Publisher) Run(done <-chan struct{}, interval time.Duration, stats func() (sent, dropped int64, fps float64)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-done:
			p.client.Disconnect(250)
			return
		case <-t.C:
			p.Publish(stats())
		}
	}
}
