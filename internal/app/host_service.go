package app

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightctl/internal/config"
	"github.com/dokzlo13/lightctl/internal/ensure"
	"github.com/dokzlo13/lightctl/internal/host/hue"
	"github.com/dokzlo13/lightctl/internal/host/mqtt"
	"github.com/dokzlo13/lightctl/internal/host/sim"
)

// HostService owns the platform adapter selected by host.backend.
type HostService struct {
	Backend string
	Host    ensure.Host

	// set for the mqtt backend only
	transport mqtt.Transport
}

// NewHostService builds the adapter for the configured backend.
// For mqtt this connects to the broker.
func NewHostService(cfg *config.Config) (*HostService, error) {
	s := &HostService{Backend: cfg.Host.Backend}

	switch cfg.Host.Backend {
	case config.BackendHue:
		s.Host = hue.New(cfg.Hue.Bridge, cfg.Hue.Token, cfg.Hue.RateLimitRPS)
		log.Info().Str("bridge", cfg.Hue.Bridge).Msg("Using Hue bridge")

	case config.BackendMQTT:
		client, err := mqtt.Dial(mqtt.Options{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ConnectTimeout: cfg.MQTT.ConnectTimeout.Duration(),
		})
		if err != nil {
			return nil, err
		}
		h, err := mqtt.New(client, mqtt.Config{
			BaseTopic:    cfg.MQTT.BaseTopic,
			QoS:          byte(cfg.MQTT.QoS),
			RateLimitRPS: cfg.MQTT.RateLimitRPS,
		})
		if err != nil {
			client.Close()
			return nil, err
		}
		s.Host = h
		s.transport = client
		log.Info().Str("broker", cfg.MQTT.Broker).Str("base_topic", cfg.MQTT.BaseTopic).Msg("Using Zigbee2MQTT")

	case config.BackendSim:
		s.Host = sim.New(simOptions(cfg.Sim))
		log.Info().Int("lights", len(cfg.Sim.Lights)).Float64("drop_rate", cfg.Sim.DropRate).Msg("Using simulated lights")

	default:
		return nil, fmt.Errorf("unknown host backend %q", cfg.Host.Backend)
	}

	return s, nil
}

// Close releases the broker connection, if any.
func (s *HostService) Close() {
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
	}
}

func simOptions(c config.SimConfig) sim.Options {
	lights := make([]sim.Light, 0, len(c.Lights))
	for _, l := range c.Lights {
		lights = append(lights, sim.Light{ID: l.ID, Modes: l.Modes, Unavailable: l.Unavailable})
	}
	return sim.Options{
		Lights:   lights,
		Groups:   c.Groups,
		DropRate: c.DropRate,
		Seed:     c.Seed,
		Latency:  c.Latency.Duration(),
	}
}
