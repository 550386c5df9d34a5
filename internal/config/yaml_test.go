package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJSON(t *testing.T) {
	got, err := toJSON("cfg.yml", []byte("watch:\n  project: TB\n  labels:\n    1: one\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"watch":{"project":"TB","labels":{"1":"one"}}}`, string(got))

	got, err = toJSON("cfg.yaml", []byte("# only a comment\n"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))

	raw := []byte(`{"watch":{}}`)
	got, err = toJSON("cfg.json", raw)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = toJSON("cfg.yaml", []byte("watch: [unclosed"))
	require.ErrorContains(t, err, "yaml")
}
