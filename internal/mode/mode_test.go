package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  RuntimeMode
	}{
		{name: "sentinel", value: "pipeline", want: Pipeline},
		{name: "explicit web", value: "web", want: Web},
		{name: "empty", value: "", want: Web},
		{name: "case mismatch", value: "Pipeline", want: Web},
		{name: "upper case", value: "PIPELINE", want: Web},
		{name: "surrounding whitespace", value: " pipeline ", want: Web},
		{name: "trailing newline", value: "pipeline\n", want: Web},
		{name: "unrelated", value: "batch", want: Web},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.value))
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Run("unset defaults to web", func(t *testing.T) {
		s := FromMap(map[string]string{})
		assert.Equal(t, Web, s.Mode)
		assert.False(t, s.Set)
		assert.Equal(t, AdvisoryPort, s.Port)
	})

	t.Run("empty string is set but web", func(t *testing.T) {
		s := FromMap(map[string]string{EnvVar: ""})
		assert.Equal(t, Web, s.Mode)
		assert.True(t, s.Set)
	})

	t.Run("pipeline", func(t *testing.T) {
		s := FromMap(map[string]string{EnvVar: "pipeline"})
		assert.Equal(t, Pipeline, s.Mode)
		assert.Equal(t, "pipeline", s.Raw)
	})

	t.Run("reads only RUN_MODE", func(t *testing.T) {
		var keys []string
		FromEnv(func(key string) (string, bool) {
			keys = append(keys, key)
			return "", false
		})
		assert.Equal(t, []string{EnvVar}, keys)
	})

	t.Run("process environment", func(t *testing.T) {
		t.Setenv(EnvVar, "pipeline")
		assert.Equal(t, Pipeline, FromEnv(nil).Mode)
	})
}

func TestFromEnvIsDeterministic(t *testing.T) {
	for _, raw := range []string{"", "web", "pipeline", "Pipeline", "x"} {
		env := map[string]string{EnvVar: raw}
		assert.Equal(t, FromMap(env), FromMap(env), "value %q", raw)
	}
}

func TestRuntimeModeString(t *testing.T) {
	assert.Equal(t, "web", Web.String())
	assert.Equal(t, "pipeline", Pipeline.String())
	assert.Equal(t, "RuntimeMode(7)", RuntimeMode(7).String())
	assert.Len(t, All, 2)
}
