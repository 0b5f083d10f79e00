package schema_test

import (
	"testing"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchemaDocument_Valid(t *testing.T) {
	raw := []byte(`{
		"version": 2,
		"entity_types": {
			"User": {"name": "User", "attributes": {"mfa": "Bool"}}
		},
		"actions": {
			"read": {"name": "read", "applies_to_principal_type": ["User"], "applies_to_resource_type": ["Bucket"]}
		}
	}`)

	s, err := schema.ParseSchemaDocument(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Version)
	assert.Equal(t, schema.TypeBool, s.EntityTypes["User"].Attributes["mfa"])
	assert.Equal(t, []string{"User"}, s.Actions["read"].AppliesToPrincipalType)
}

func TestParseSchemaDocument_RejectsUnknownAttributeType(t *testing.T) {
	raw := []byte(`{
		"entity_types": {
			"User": {"name": "User", "attributes": {"mfa": "Nonsense"}}
		},
		"actions": {}
	}`)

	_, err := schema.ParseSchemaDocument(raw)
	require.Error(t, err)
	assert.Equal(t, apierr.SchemaError, apierr.KindOf(err))
}

func TestParseSchemaDocument_RejectsMalformedJSON(t *testing.T) {
	_, err := schema.ParseSchemaDocument([]byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, apierr.SchemaError, apierr.KindOf(err))
}

func TestParseSchemaDocument_ValidatesReleaseTag(t *testing.T) {
	valid := []byte(`{"version": 3, "release_tag": "v3.1.0", "entity_types": {}, "actions": {}}`)
	s, err := schema.ParseSchemaDocument(valid)
	require.NoError(t, err)
	assert.Equal(t, "v3.1.0", s.ReleaseTag)

	invalid := []byte(`{"version": 3, "release_tag": "not-a-version", "entity_types": {}, "actions": {}}`)
	_, err = schema.ParseSchemaDocument(invalid)
	require.Error(t, err)
	assert.Equal(t, apierr.SchemaError, apierr.KindOf(err))
}
