package stealth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "en-US,en;q=0.9", DefaultPersona.AcceptLanguage())
	assert.Equal(t, "de", Persona{Languages: []string{"de"}}.AcceptLanguage())
	assert.Equal(t, "", Persona{}.AcceptLanguage())
}

func TestScriptSubstitutesPersona(t *testing.T) {
	p := DefaultPersona
	p.Platform = `Mac"Intel`
	script, err := Script(p)
	require.NoError(t, err)

	assert.Contains(t, script, `["en-US","en"]`)
	assert.Contains(t, script, `"Mac\"Intel"`)
	assert.Contains(t, script, "'webdriver'")
	assert.NotContains(t, script, "__CHATLOOM_")
}

func TestWithUserAgent(t *testing.T) {
	assert.Equal(t, "custom", DefaultPersona.WithUserAgent("custom").UserAgent)
	assert.Equal(t, DefaultPersona.UserAgent, DefaultPersona.WithUserAgent("").UserAgent)
}

func TestApply(t *testing.T) {
	t.Run("full persona", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		tasks := Apply(DefaultPersona, zap.New(core))
		assert.Len(t, tasks, 5)
		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "Applying browser stealth persona", logs.All()[0].Message)
	})

	t.Run("minimal persona and nil logger", func(t *testing.T) {
		assert.NotPanics(t, func() {
			tasks := Apply(Persona{UserAgent: "ua"}, nil)
			assert.Len(t, tasks, 2)
		})
	})
}
