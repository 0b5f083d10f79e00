package policylang

import "github.com/Rubentxu/hodei-artifacts-sub002/pkg/canonicalize"

// Hash implements Language. Two CompiledForms produced from equal
// (source_text, schema_version) inputs canonicalize identically and so
// hash identically, independent of any cel.Program internal state (§3's
// compiled_hash invariant).
func (celLanguage) Hash(c *CompiledForm) (string, error) {
	shape := struct {
		Effect          Effect `json:"effect"`
		ActionPattern   string `json:"action_pattern"`
		ResourcePattern string `json:"resource_pattern"`
		Condition       string `json:"condition"`
		SchemaVersion   uint64 `json:"schema_version"`
	}{
		Effect:          c.effect,
		ActionPattern:   c.actionMatcher.pattern,
		ResourcePattern: c.resourceMatcher.pattern,
		Condition:       c.conditionSource,
		SchemaVersion:   c.schemaVersion,
	}
	return canonicalize.CanonicalHash(shape)
}
