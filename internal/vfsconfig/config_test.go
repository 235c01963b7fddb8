package vfsconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestBackendSpecUnmarshalBareName(t *testing.T) {
	var spec BackendSpec
	require.NoError(t, yaml.Unmarshal([]byte(`memory`), &spec))
	require.Equal(t, "memory", spec.Name)
	require.Nil(t, spec.Options)
}

func TestBackendSpecUnmarshalMap(t *testing.T) {
	var spec BackendSpec
	require.NoError(t, yaml.Unmarshal([]byte("fs: s3\nbucket: my-bucket\nregion: us-west-2\n"), &spec))
	require.Equal(t, "s3", spec.Name)
	require.Equal(t, "my-bucket", spec.Options["bucket"])
}

func TestValidateUnknownOptionSuggestsCorrection(t *testing.T) {
	schema := Schema{"bucket": {Type: KindString}}
	err := Validate(schema, map[string]interface{}{"buckt": "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bucket")
}

func TestValidateTypeMismatch(t *testing.T) {
	schema := Schema{"bucket": {Type: KindString}}
	err := Validate(schema, map[string]interface{}{"bucket": 5})
	require.Error(t, err)
}

func TestValidateMissingRequired(t *testing.T) {
	schema := Schema{"bucket": {Type: KindString}}
	err := Validate(schema, map[string]interface{}{})
	require.Error(t, err)
}

func TestValidateOptionalMissingOK(t *testing.T) {
	schema := Schema{"bucket": {Type: KindString, Optional: true}}
	require.NoError(t, Validate(schema, map[string]interface{}{}))
}
