package secret_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcore/dagflow/pkg/engineerr"
	"github.com/flowcore/dagflow/pkg/secret"
)

func TestWalkReplacesToken(t *testing.T) {
	resolver := secret.MapResolver{"api.key": "sk-live-123"}
	config := map[string]interface{}{
		"token":  "Bearer {{secrets.api.key}}",
		"nested": map[string]interface{}{"auth": "{{ secrets.api.key }}"},
		"list":   []interface{}{"{{secrets.api.key}}", "plain"},
		"number": 42,
	}

	out, err := secret.Walk("node1", config, resolver, secret.DefaultMaxDepth)
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-live-123", out["token"])
	assert.Equal(t, "sk-live-123", out["nested"].(map[string]interface{})["auth"])
	assert.Equal(t, "sk-live-123", out["list"].([]interface{})[0])
	assert.Equal(t, 42, out["number"])
}

func TestWalkMissingSecretRaisesSecretResolutionError(t *testing.T) {
	resolver := secret.MapResolver{}
	_, err := secret.Walk("node1", map[string]interface{}{"token": "{{secrets.api.key}}"}, resolver, secret.DefaultMaxDepth)
	require.Error(t, err)
	assert.True(t, engineerr.IsKind(err, engineerr.KindSecretResolution))
}

func TestWalkNilResolverIsNoop(t *testing.T) {
	config := map[string]interface{}{"token": "{{secrets.api.key}}"}
	out, err := secret.Walk("node1", config, nil, secret.DefaultMaxDepth)
	require.NoError(t, err)
	assert.Equal(t, config["token"], out["token"])
}
