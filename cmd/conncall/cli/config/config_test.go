package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.Delivery.Workers)
	assert.Equal(t, ProgressAuto, cfg.Progress)
	assert.False(t, cfg.Metrics)
}

func TestLoad_Overrides(t *testing.T) {
	t.Parallel()

	v := viper.New()
	SetDefaults(v)
	v.Set("timeout", "250ms")
	v.Set("delivery.workers", "4")
	v.Set("progress", "plain")
	v.Set("metrics", true)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 4, cfg.Delivery.Workers)
	assert.Equal(t, ProgressPlain, cfg.Progress)
	assert.True(t, cfg.Metrics)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     string
		value   any
		wantErr string
	}{
		{name: "negative timeout", key: "timeout", value: "-1s", wantErr: "timeout must not be negative"},
		{name: "zero workers", key: "delivery.workers", value: 0, wantErr: "delivery.workers must be at least 1"},
		{name: "unknown progress", key: "progress", value: "fancy", wantErr: "progress must be auto, tty or plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := viper.New()
			SetDefaults(v)
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
