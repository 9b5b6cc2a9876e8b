package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EnvVarsBindToDottedKeys(t *testing.T) {
	viper.Reset()
	// 错误提示里宣传的就是这些变量名，它们必须真的能用
	t.Setenv("NDSB_BEAM_HOST", "https://beams.example.org")
	t.Setenv("NDSB_DEPOT_TYPE", "s3")

	require.NoError(t, Load(""))

	assert.Equal(t, "https://beams.example.org", viper.GetString("beam.host"))
	assert.Equal(t, "s3", viper.GetString("depot.type"))
}

func TestLoad_DefaultsSurviveWithoutConfigFile(t *testing.T) {
	viper.Reset()

	require.NoError(t, Load(""))

	assert.Equal(t, "artifacts.freeze", viper.GetString("freeze.file"))
	assert.Equal(t, "disk", viper.GetString("depot.type"))
}
