package policylang_test

import (
	"testing"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/policylang"
	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() schema.Handle {
	r := schema.NewRegistry(&schema.Schema{
		Version: 1,
		EntityTypes: map[string]schema.EntityTypeDecl{
			"User":   {Name: "User"},
			"Bucket": {Name: "Bucket"},
		},
		Actions: map[string]schema.ActionDecl{
			"read": {Name: "read", AppliesToPrincipalType: []string{"User"}, AppliesToResourceType: []string{"Bucket"}},
		},
	}, 4)
	return r.Active()
}

func compile(t *testing.T, lang policylang.Language, source string, kind policylang.PolicyKind) *policylang.CompiledForm {
	t.Helper()
	a, err := lang.Parse(source)
	require.NoError(t, err)
	typed, err := lang.Typecheck(a, testSchema(), kind)
	require.NoError(t, err)
	cf, err := lang.Compile(typed)
	require.NoError(t, err)
	return cf
}

func req(action string, resourceType, resourceID string, attrs map[string]any, ctx map[string]any) policylang.Request {
	return policylang.Request{
		Principal: policylang.PrincipalView{
			HRN:        hrn.New("p", "iam", "acct", "user", "alice"),
			EntityType: "User",
			Attributes: attrs,
		},
		Action:   action,
		Resource: hrn.New("p", "s3", "acct", resourceType, resourceID),
		Context:  ctx,
	}
}

func TestParse_ExplicitKeys(t *testing.T) {
	lang := policylang.New()
	a, err := lang.Parse("permit(action=read, resource=bucket/photos)")
	require.NoError(t, err)
	assert.Equal(t, policylang.Permit, a.Effect)
	assert.Equal(t, "read", a.ActionPattern)
	assert.Equal(t, "bucket/photos", a.ResourcePattern)
	assert.Empty(t, a.Condition)
}

func TestParse_PositionalArgs(t *testing.T) {
	lang := policylang.New()
	a, err := lang.Parse("permit(read, *)")
	require.NoError(t, err)
	assert.Equal(t, "read", a.ActionPattern)
	assert.Equal(t, "*", a.ResourcePattern)
}

func TestParse_SyntaxError(t *testing.T) {
	lang := policylang.New()
	_, err := lang.Parse("not a policy statement")
	require.Error(t, err)
	var se *policylang.SyntaxError
	require.ErrorAs(t, err, &se)
}

func TestEvaluate_ExplicitAllow(t *testing.T) {
	lang := policylang.New()
	cf := compile(t, lang, "permit(action=read, resource=bucket/photos)", policylang.KindIdentity)

	out, err := lang.Evaluate(cf, req("read", "bucket", "photos", nil, nil), 128)
	require.NoError(t, err)
	assert.Equal(t, policylang.Permit, out.Effect)
}

func TestEvaluate_WildcardResourceForbid(t *testing.T) {
	lang := policylang.New()
	cf := compile(t, lang, "forbid(action=read, resource=bucket/*)", policylang.KindSCP)

	out, err := lang.Evaluate(cf, req("read", "bucket", "photos", nil, nil), 128)
	require.NoError(t, err)
	assert.Equal(t, policylang.Forbid, out.Effect)
}

func TestEvaluate_NonMatchingActionIsNotApplicable(t *testing.T) {
	lang := policylang.New()
	cf := compile(t, lang, "permit(action=read, resource=bucket/photos)", policylang.KindIdentity)

	out, err := lang.Evaluate(cf, req("write", "bucket", "photos", nil, nil), 128)
	require.NoError(t, err)
	assert.Equal(t, policylang.NotApplicable, out.Effect)
}

func TestEvaluate_ConditionGatesOutcome(t *testing.T) {
	lang := policylang.New()
	cf := compile(t, lang, `permit(action=read, resource=bucket/photos) when principal.mfa == true`, policylang.KindIdentity)

	out, err := lang.Evaluate(cf, req("read", "bucket", "photos", map[string]any{"mfa": false}, nil), 128)
	require.NoError(t, err)
	assert.Equal(t, policylang.NotApplicable, out.Effect)

	out2, err := lang.Evaluate(cf, req("read", "bucket", "photos", map[string]any{"mfa": true}, nil), 128)
	require.NoError(t, err)
	assert.Equal(t, policylang.Permit, out2.Effect)
}

func TestTypecheck_UnknownActionRejected(t *testing.T) {
	lang := policylang.New()
	a, err := lang.Parse("permit(action=delete, resource=bucket/photos)")
	require.NoError(t, err)

	_, err = lang.Typecheck(a, testSchema(), policylang.KindIdentity)
	require.Error(t, err)
	var te *policylang.TypeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "SchemaError", te.Code)
}

func TestTypecheck_SCPRejectsPrincipalAttributeCondition(t *testing.T) {
	lang := policylang.New()
	a, err := lang.Parse(`forbid(action=read, resource=bucket/*) when principal.mfa == false`)
	require.NoError(t, err)

	_, err = lang.Typecheck(a, testSchema(), policylang.KindSCP)
	require.Error(t, err)
	var te *policylang.TypeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "UnsupportedConstruct", te.Code)
}

func TestCompileDeterminism(t *testing.T) {
	lang := policylang.New()
	a, err := lang.Parse("permit(action=read, resource=bucket/photos)")
	require.NoError(t, err)
	typed, err := lang.Typecheck(a, testSchema(), policylang.KindIdentity)
	require.NoError(t, err)

	cf1, err := lang.Compile(typed)
	require.NoError(t, err)
	cf2, err := lang.Compile(typed)
	require.NoError(t, err)

	h1, err := lang.Hash(cf1)
	require.NoError(t, err)
	h2, err := lang.Hash(cf2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCompile_RejectsFloatingPointLiteral(t *testing.T) {
	lang := policylang.New()
	a, err := lang.Parse(`permit(action=read, resource=bucket/photos) when context.score > 1.5`)
	require.NoError(t, err)
	typed, err := lang.Typecheck(a, testSchema(), policylang.KindIdentity)
	require.NoError(t, err)

	_, err = lang.Compile(typed)
	require.Error(t, err)
}

func TestEvaluate_Deterministic(t *testing.T) {
	lang := policylang.New()
	cf := compile(t, lang, "permit(action=read, resource=bucket/photos)", policylang.KindIdentity)
	r := req("read", "bucket", "photos", nil, nil)

	first, err := lang.Evaluate(cf, r, 128)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		out, err := lang.Evaluate(cf, r, 128)
		require.NoError(t, err)
		assert.Equal(t, first.Effect, out.Effect)
	}
}
