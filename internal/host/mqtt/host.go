// Package mqtt drives Zigbee2MQTT lights. Devices and groups are addressed
// by their Zigbee2MQTT friendly names.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lightctl/internal/ensure"
)

// Config configures the host.
type Config struct {
	BaseTopic    string // default zigbee2mqtt
	QoS          byte
	RateLimitRPS float64 // default 20
}

// Host implements ensure.Host from the retained Zigbee2MQTT topics.
type Host struct {
	transport Transport
	base      string
	qos       byte
	limiter   *rate.Limiter

	mu           sync.RWMutex
	devices      map[string]deviceInfo
	groups       map[string][]string // group name -> member IEEE addresses
	states       map[string][]byte
	availability map[string]bool
}

// New subscribes to the bridge and device topics and returns the host.
// State fills in as retained messages arrive.
func New(t Transport, cfg Config) (*Host, error) {
	base := strings.TrimSuffix(cfg.BaseTopic, "/")
	if base == "" {
		base = "zigbee2mqtt"
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 20
	}

	h := &Host{
		transport:    t,
		base:         base,
		qos:          cfg.QoS,
		limiter:      rate.NewLimiter(rate.Limit(rps), max(int(rps), 1)),
		devices:      make(map[string]deviceInfo),
		groups:       make(map[string][]string),
		states:       make(map[string][]byte),
		availability: make(map[string]bool),
	}

	if err := t.Subscribe(base+"/#", cfg.QoS, h.route); err != nil {
		return nil, err
	}

	log.Info().Str("base_topic", base).Msg("Subscribed to Zigbee2MQTT topics")
	return h, nil
}

func (h *Host) onDevices(payload []byte) {
	devices, err := parseDevices(payload)
	if err != nil {
		log.Warn().Err(err).Msg("Bad bridge/devices payload")
		return
	}
	h.mu.Lock()
	h.devices = devices
	h.mu.Unlock()
	log.Debug().Int("devices", len(devices)).Msg("Device list updated")
}

func (h *Host) onGroups(payload []byte) {
	groups, err := parseGroups(payload)
	if err != nil {
		log.Warn().Err(err).Msg("Bad bridge/groups payload")
		return
	}
	h.mu.Lock()
	h.groups = groups
	h.mu.Unlock()
	log.Debug().Int("groups", len(groups)).Msg("Group list updated")
}

// route dispatches every message under the base topic. Friendly names may
// contain slashes, so anything that is not a bridge topic, an availability
// topic or a command echo is device state.
func (h *Host) route(topic string, payload []byte) {
	rest, ok := strings.CutPrefix(topic, h.base+"/")
	if !ok || rest == "" {
		return
	}
	switch {
	case rest == "bridge/devices":
		h.onDevices(payload)
	case rest == "bridge/groups":
		h.onGroups(payload)
	case rest == "bridge" || strings.HasPrefix(rest, "bridge/"):
		// bridge state, logging and responses
	case strings.HasSuffix(rest, "/set"), strings.HasSuffix(rest, "/get"):
		// our own commands echoed back
	case strings.HasSuffix(rest, "/availability"):
		h.onAvailability(strings.TrimSuffix(rest, "/availability"), payload)
	default:
		h.onState(rest, payload)
	}
}

func (h *Host) onState(name string, payload []byte) {
	h.mu.Lock()
	h.states[name] = append([]byte(nil), payload...)
	h.mu.Unlock()
}

func (h *Host) onAvailability(name string, payload []byte) {
	online := parseAvailability(payload)
	h.mu.Lock()
	h.availability[name] = online
	h.mu.Unlock()
	log.Debug().Str("device", name).Bool("online", online).Msg("Availability changed")
}

// Members implements ensure.GroupResolver.
func (h *Host) Members(_ context.Context, id string) ([]string, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ieees, ok := h.groups[id]
	if !ok {
		return nil, false, nil
	}
	byIEEE := make(map[string]string, len(h.devices))
	for name, d := range h.devices {
		byIEEE[d.ieee] = name
	}
	members := make([]string, 0, len(ieees))
	for _, addr := range ieees {
		if name, ok := byIEEE[addr]; ok {
			members = append(members, name)
		} else {
			members = append(members, addr)
		}
	}
	return members, true, nil
}

// IsDevice implements ensure.AvailabilityChecker. Only lights count.
func (h *Host) IsDevice(_ context.Context, id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.devices[id].light
}

// IsAvailable implements ensure.AvailabilityChecker. Without availability
// reporting, a device counts as available once its state has been seen.
func (h *Host) IsAvailable(_ context.Context, id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.availableLocked(id)
}

func (h *Host) availableLocked(id string) bool {
	if !h.devices[id].light {
		return false
	}
	if online, ok := h.availability[id]; ok {
		return online
	}
	_, seen := h.states[id]
	return seen
}

// Send implements ensure.CommandIssuer with one publish per device.
func (h *Host) Send(ctx context.Context, cmd ensure.Command) error {
	payload, err := encodeCommand(cmd)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range cmd.DeviceIDs {
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}
		topic := h.base + "/" + id + "/set"
		if err := h.transport.Publish(ctx, topic, h.qos, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		log.Debug().Str("topic", topic).RawJSON("payload", payload).Msg("Published command")
	}
	return errors.Join(errs...)
}

// Read implements ensure.StateReader from the last reported state.
func (h *Host) Read(_ context.Context, id string) (ensure.DeviceState, error) {
	h.mu.RLock()
	raw, seen := h.states[id]
	info := h.devices[id]
	available := h.availableLocked(id)
	h.mu.RUnlock()

	if !available || !seen {
		return ensure.DeviceState{}, fmt.Errorf("%s: %w", id, ensure.ErrUnavailable)
	}
	st, err := parseState(raw, info)
	if err != nil {
		return ensure.DeviceState{}, fmt.Errorf("%s: bad state payload: %w", id, err)
	}
	return st, nil
}
