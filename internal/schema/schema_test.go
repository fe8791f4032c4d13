package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	require.NoError(t, err)
	return v
}

func TestValidateCreate_Valid(t *testing.T) {
	v := newValidator(t)

	cases := map[Kind]string{
		KindRepository: `{"name":"tamv-id","url":"https://github.com/tamv/id","layer":"identity","stack":["go"]}`,
		KindModule:     `{"name":"Isabella","layer":"intelligence","progress":60}`,
		KindTask:       `{"title":"Ship DID","priority":"critical","module_id":null}`,
		KindDeployment: `{"environment":"production","version":"v1.2.3","status":"success"}`,
	}
	for k, body := range cases {
		assert.NoError(t, v.ValidateCreate(k, []byte(body)), "kind %s", k)
	}
}

func TestValidateCreate_Violations(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name string
		kind Kind
		body string
		want string
	}{
		{"unknown layer", KindModule, `{"name":"x","layer":"quantum"}`, "layer"},
		{"progress above range", KindModule, `{"name":"x","layer":"economy","progress":150}`, "progress"},
		{"negative progress", KindModule, `{"name":"x","layer":"economy","progress":-3}`, "progress"},
		{"missing title", KindTask, `{"status":"todo"}`, "title"},
		{"bad priority", KindTask, `{"title":"x","priority":"urgent"}`, "priority"},
		{"bad version", KindDeployment, `{"environment":"staging","version":"latest"}`, "version"},
		{"bad environment", KindDeployment, `{"environment":"dev","version":"v1.0.0"}`, "environment"},
		{"missing url", KindRepository, `{"name":"x","layer":"identity"}`, "url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateCreate(tt.kind, []byte(tt.body))
			require.Error(t, err)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.kind, ve.Kind)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCreate_MalformedJSON(t *testing.T) {
	v := newValidator(t)
	err := v.ValidateCreate(KindTask, []byte(`{"title":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed JSON")
}

func TestValidatePatch(t *testing.T) {
	v := newValidator(t)

	assert.NoError(t, v.ValidatePatch(KindModule, []byte(`{"progress":80}`)))
	assert.NoError(t, v.ValidatePatch(KindTask, []byte(`{"status":"done"}`)))
	assert.Error(t, v.ValidatePatch(KindModule, []byte(`{"progress":101}`)))
	assert.Error(t, v.ValidatePatch(KindTask, []byte(`{}`)), "empty patch is rejected")
}
