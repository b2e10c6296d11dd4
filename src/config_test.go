package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilters(t *testing.T) {
	t.Run("single filter", func(t *testing.T) {
		filters, err := parseFilters("Boiler Temp=homeassistant/sensor/boiler_temp/state,0.5")
		require.NoError(t, err)
		require.Len(t, filters, 1)

		f := filters[0]
		assert.Equal(t, "Boiler Temp", f.Name)
		assert.Equal(t, "homeassistant/sensor/boiler_temp/state", f.InputTopic)
		assert.Equal(t, 0.5, f.DeadbandWidth)
		assert.False(t, f.Adaptive.Enabled())
		assert.Equal(t, 5*time.Minute, f.Adaptive.Window)
	})

	t.Run("adaptive fields", func(t *testing.T) {
		filters, err := parseFilters(" a=t/a,4,1.5,2,20 ; b=t/b,10 ;")
		require.NoError(t, err)
		require.Len(t, filters, 2)

		a := filters[0].Adaptive
		assert.True(t, a.Enabled())
		assert.Equal(t, 1.5, a.Factor)
		assert.Equal(t, 2.0, a.MinWidth)
		assert.Equal(t, 20.0, a.MaxWidth)

		assert.Equal(t, "b", filters[1].Name)
		assert.Equal(t, 10.0, filters[1].DeadbandWidth)
	})

	errorCases := []struct {
		name string
		defs string
	}{
		{"empty", ""},
		{"missing equals", "a t/a,4"},
		{"missing width", "a=t/a"},
		{"empty topic", "a= ,4"},
		{"bad number", "a=t/a,wide"},
		{"negative width", "a=t/a,-4"},
		{"NaN width", "a=t/a,NaN"},
		{"infinite width", "a=t/a,Inf"},
		{"infinite max width", "a=t/a,4,1,0,+Inf"},
		{"single level wildcard", "a=sensors/+/temp,4"},
		{"multi level wildcard", "a=sensors/#,4"},
		{"too many fields", "a=t/a,1,2,3,4,5"},
		{"max below min", "a=t/a,4,1,10,5"},
		{"duplicate name", "a=t/a,4;a=t/b,4"},
	}

	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFilters(tt.defs)
			assert.Error(t, err)
		})
	}

	t.Run("non-finite is errNonFinite", func(t *testing.T) {
		_, err := parseFilters("a=t/a,4,nan")
		assert.ErrorIs(t, err, errNonFinite)
	})

	t.Run("empty is errNoFilters", func(t *testing.T) {
		_, err := parseFilters(" ; ")
		assert.ErrorIs(t, err, errNoFilters)
	})
}

func TestParseFinite(t *testing.T) {
	v, err := parseFinite(" -2.5 ")
	require.NoError(t, err)
	assert.Equal(t, -2.5, v)

	for _, s := range []string{"nan", "NaN", "inf", "-Inf", "+Infinity"} {
		_, err := parseFinite(s)
		assert.ErrorIs(t, err, errNonFinite, s)
	}

	_, err = parseFinite("wide")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errNonFinite)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(EnvMQTTUsername, "user")
	t.Setenv(EnvMQTTPassword, "pass")
	t.Setenv(EnvMQTTBroker, "")
	t.Setenv(EnvMQTTClientID, "test-client")
	t.Setenv(EnvFilters, "a=t/shared,4;b=t/shared,8;c=t/c,2")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, defaultBroker, cfg.Broker)
	assert.Equal(t, "test-client", cfg.ClientID)
	assert.Len(t, cfg.Filters, 3)
	assert.Equal(t, []string{"t/shared", "t/c"}, cfg.Topics())
}

func TestLoadConfig_MissingCredentials(t *testing.T) {
	t.Setenv(EnvMQTTUsername, "")
	t.Setenv(EnvMQTTPassword, "pass")
	t.Setenv(EnvFilters, "a=t/a,4")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestFilterConfig_Topics(t *testing.T) {
	f := FilterConfig{Name: "Boiler Temp"}
	assert.Equal(t, "boiler_temp", f.DeviceID())
	assert.Equal(t, "homeassistant/sensor/boiler_temp_backlash/state", f.StateTopic())
	assert.Equal(t, "homeassistant/sensor/boiler_temp_backlash/config", f.ConfigTopic())
}
