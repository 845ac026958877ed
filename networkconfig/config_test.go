package networkconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetNetworkConfigByName(t *testing.T) {
	for name := range SupportedConfigs {
		cfg, err := GetNetworkConfigByName(name)
		require.NoError(t, err)
		require.Equal(t, name, cfg.Name)
		require.NotZero(t, cfg.EpochLength)
		require.Greater(t, cfg.EpochLength, cfg.GracePeriod)
		require.NotNil(t, cfg.ChallengeBond)
		require.NotEmpty(t, cfg.SlashableStrategies)
	}

	_, err := GetNetworkConfigByName("sepolia")
	require.Error(t, err)
}
