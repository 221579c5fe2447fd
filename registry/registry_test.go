package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New([]Agent{
		{Alias: "WeatherBot", DisplayName: "Weather Agent", Connection: ConnectionSettings{EnvironmentID: "Default-1234", SchemaName: "cr_weather"}},
		{Alias: "cas", Connection: ConnectionSettings{Endpoint: "https://cas.example/conversations/", Scope: "api://cas/.default"}},
	})
	require.NoError(t, err)
	return r
}

func TestResolveAlias(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantAlias string
		wantOK    bool
	}{
		{"with rest", "@weatherbot what's the weather in Seattle", "weatherbot", true},
		{"alias only", "@weatherbot", "weatherbot", true},
		{"bare at", "@", "", true},
		{"no mention", "weatherbot hello", "", false},
		{"mention later", "hi @weatherbot", "", false},
		{"empty", "", "", false},
		{"leading space after at", "@ hello", " hello", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alias, ok := ResolveAlias(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantAlias, alias)
		})
	}
}

func TestRegistry_LookupIsCaseInsensitive(t *testing.T) {
	r := testRegistry(t)

	a, ok := r.Lookup("weatherbot")
	require.True(t, ok)
	assert.Equal(t, "Weather Agent", a.DisplayName)

	assert.True(t, r.IsKnown("WEATHERBOT"))
	assert.False(t, r.IsKnown("unknownbot"))
	assert.False(t, r.IsKnown(""))
}

func TestRegistry_DisplayNameFallsBackToAlias(t *testing.T) {
	r := testRegistry(t)
	assert.Equal(t, "Weather Agent", r.DisplayName("weatherbot"))
	assert.Equal(t, "cas", r.DisplayName("cas"))
	assert.Equal(t, "unknownbot", r.DisplayName("unknownbot"))

	_, ok := r.Lookup("unknownbot")
	assert.False(t, ok)
}

func TestNew_RejectsInvalidAliases(t *testing.T) {
	_, err := New([]Agent{{Alias: " "}})
	assert.Error(t, err)

	_, err = New([]Agent{{Alias: "a"}, {Alias: "A"}})
	assert.Error(t, err)
}

func TestConnectionSettings(t *testing.T) {
	r := testRegistry(t)

	wb, _ := r.Lookup("weatherbot")
	assert.Equal(t, DefaultScope, wb.Connection.ResolveScope())
	u, err := wb.Connection.ConversationsURL()
	require.NoError(t, err)
	assert.Equal(t, "https://default12.34.environment.api.powerplatform.com/copilotstudio/dataverse-backed/authenticated/bots/cr_weather/conversations", u)

	cas, _ := r.Lookup("cas")
	assert.Equal(t, "api://cas/.default", cas.Connection.ResolveScope())
	u, err = cas.Connection.ConversationsURL()
	require.NoError(t, err)
	assert.Equal(t, "https://cas.example/conversations", u)

	custom := ConnectionSettings{Cloud: CloudCustom}
	assert.Empty(t, custom.ResolveScope())
	_, err = custom.ConversationsURL()
	assert.Error(t, err)
}

func TestStripMentionAndPrefix(t *testing.T) {
	assert.Equal(t, "what's the weather in Seattle", StripMention("@weatherbot what's the weather in Seattle", "weatherbot"))
	assert.Equal(t, "", StripMention("@weatherbot", "weatherbot"))
	assert.Equal(t, "**<\\\\\\\\> Weather Agent >>**\nSunny, 72F", FormatDisplayPrefix("Weather Agent", "Sunny, 72F"))
}
