package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAdapterBuiltins(t *testing.T) {
	a, err := NewAdapter("sarama")
	require.NoError(t, err)
	assert.IsType(t, &SaramaDriver{}, a)

	a, err = NewAdapter("kgo")
	require.NoError(t, err)
	assert.IsType(t, &KgoDriver{}, a)
}

func TestNewAdapterUnknown(t *testing.T) {
	_, err := NewAdapter("confluent")
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "driver", ce.Field)
}

func TestRegisterCustom(t *testing.T) {
	Register("registry-test", func() Adapter { return &KgoDriver{} })
	assert.Contains(t, Drivers(), "registry-test")
	_, err := NewAdapter("registry-test")
	assert.NoError(t, err)
}
