package chain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	cases := map[string]Type{
		"main":             Mainnet,
		"Mainnet":          Mainnet,
		" test ":           Testnet,
		"TESTNET":          Testnet,
		"user":             UserTesting,
		"automatedtesting": AutomatedTesting,
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := Parse("floonet")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownChainType))
}

func TestShortNamesAreDistinct(t *testing.T) {
	seen := make(map[string]bool)
	for _, ct := range All() {
		name := ct.ShortName()
		assert.False(t, seen[name], "duplicate short name %s", name)
		seen[name] = true
	}
	assert.Equal(t, "unknown", Type(42).ShortName())
	assert.False(t, Type(42).Valid())
}

func TestYAMLRoundTrip(t *testing.T) {
	type wrapper struct {
		Chain Type `yaml:"chain"`
	}
	out, err := yaml.Marshal(wrapper{Chain: Testnet})
	require.NoError(t, err)
	assert.Contains(t, string(out), "testnet")

	var back wrapper
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, Testnet, back.Chain)

	require.Error(t, yaml.Unmarshal([]byte("chain: nowhere\n"), &back))
}
