package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read at startup (after loading .env)
const (
	EnvMQTTBroker   = "MQTT_BROKER"
	EnvMQTTUsername = "MQTT_USERNAME"
	EnvMQTTPassword = "MQTT_PASSWORD"
	EnvMQTTClientID = "MQTT_CLIENT_ID"
	EnvFilters      = "BACKLASH_FILTERS"
)

const (
	defaultBroker         = "homeassistant.lan"
	defaultClientID       = "backlashctl"
	defaultAdaptiveWindow = 5 * time.Minute
)

var (
	errNoFilters = errors.New(EnvFilters + " defines no filters")
	errNonFinite = errors.New("value must be a finite number")
)

// Config holds everything main needs to wire the workers
type Config struct {
	Broker   string
	Username string
	Password string
	ClientID string
	Filters  []FilterConfig
}

// AdaptiveConfig controls runtime resizing of the deadband from measured noise.
// Width = Factor * (P99 - P1 of raw input over Window), clamped to [MinWidth, MaxWidth].
type AdaptiveConfig struct {
	Factor   float64
	MinWidth float64
	MaxWidth float64 // 0 = no upper bound
	Window   time.Duration
}

// Enabled reports whether adaptive width is configured
func (a AdaptiveConfig) Enabled() bool {
	return a.Factor > 0
}

// FilterConfig holds configuration for a single filter worker
type FilterConfig struct {
	Name          string
	InputTopic    string
	DeadbandWidth float64
	Adaptive      AdaptiveConfig
}

// DeviceID returns the Home Assistant object id for the filter
func (c FilterConfig) DeviceID() string {
	return strings.ReplaceAll(strings.ToLower(c.Name), " ", "_")
}

// StateTopic returns the topic the filtered state is published to
func (c FilterConfig) StateTopic() string {
	return "homeassistant/sensor/" + c.DeviceID() + "_backlash/state"
}

// ConfigTopic returns the Home Assistant discovery topic for the filter entity
func (c FilterConfig) ConfigTopic() string {
	return "homeassistant/sensor/" + c.DeviceID() + "_backlash/config"
}

// LoadConfig reads the daemon configuration from the environment
func LoadConfig() (Config, error) {
	cfg := Config{
		Broker:   getenvDefault(EnvMQTTBroker, defaultBroker),
		Username: os.Getenv(EnvMQTTUsername),
		Password: os.Getenv(EnvMQTTPassword),
		ClientID: getenvDefault(EnvMQTTClientID, defaultClientID),
	}

	if cfg.Username == "" || cfg.Password == "" {
		return Config{}, fmt.Errorf("%s and %s must be set", EnvMQTTUsername, EnvMQTTPassword)
	}

	filters, err := parseFilters(os.Getenv(EnvFilters))
	if err != nil {
		return Config{}, err
	}
	cfg.Filters = filters

	return cfg, nil
}

// Topics returns the deduplicated set of input topics across all filters
func (c Config) Topics() []string {
	seen := make(map[string]bool, len(c.Filters))
	var topics []string
	for _, f := range c.Filters {
		if !seen[f.InputTopic] {
			seen[f.InputTopic] = true
			topics = append(topics, f.InputTopic)
		}
	}
	return topics
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// parseFilters parses semicolon separated filter definitions of the form
//
//	name=input_topic,width[,adapt_factor[,min_width[,max_width]]]
func parseFilters(defs string) ([]FilterConfig, error) {
	var filters []FilterConfig
	names := make(map[string]bool)

	for _, def := range strings.Split(defs, ";") {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}

		f, err := parseFilter(def)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", def, err)
		}
		if names[f.Name] {
			return nil, fmt.Errorf("filter %q: duplicate name", f.Name)
		}
		names[f.Name] = true
		filters = append(filters, f)
	}

	if len(filters) == 0 {
		return nil, errNoFilters
	}
	return filters, nil
}

func parseFilter(def string) (FilterConfig, error) {
	name, rest, ok := strings.Cut(def, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return FilterConfig{}, errors.New("expected name=topic,width")
	}

	fields := strings.Split(rest, ",")
	if len(fields) < 2 || len(fields) > 5 {
		return FilterConfig{}, fmt.Errorf("expected 2 to 5 fields after name, got %d", len(fields))
	}

	topic := strings.TrimSpace(fields[0])
	if topic == "" {
		return FilterConfig{}, errors.New("empty input topic")
	}
	// Routing is by exact topic, so a wildcard subscription would never be delivered
	if strings.ContainsAny(topic, "+#") {
		return FilterConfig{}, fmt.Errorf("input topic %q must not contain MQTT wildcards", topic)
	}

	nums := make([]float64, len(fields)-1)
	for i, field := range fields[1:] {
		v, err := parseFinite(field)
		if err != nil {
			return FilterConfig{}, fmt.Errorf("field %d: %w", i+2, err)
		}
		if v < 0 {
			return FilterConfig{}, fmt.Errorf("field %d: must not be negative", i+2)
		}
		nums[i] = v
	}

	f := FilterConfig{
		Name:          name,
		InputTopic:    topic,
		DeadbandWidth: nums[0],
		Adaptive:      AdaptiveConfig{Window: defaultAdaptiveWindow},
	}
	if len(nums) > 1 {
		f.Adaptive.Factor = nums[1]
	}
	if len(nums) > 2 {
		f.Adaptive.MinWidth = nums[2]
	}
	if len(nums) > 3 {
		f.Adaptive.MaxWidth = nums[3]
		if f.Adaptive.MaxWidth > 0 && f.Adaptive.MaxWidth < f.Adaptive.MinWidth {
			return FilterConfig{}, errors.New("max width below min width")
		}
	}

	return f, nil
}

// parseFinite parses a float, rejecting NaN and ±Inf which would wedge a filter
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q: %w", s, errNonFinite)
	}
	return v, nil
}
