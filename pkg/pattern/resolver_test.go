package pattern

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaultTemplate(t *testing.T) {
	got, err := Resolve(DefaultTemplate, Values{
		ProjectKey: "ACME",
		Component:  "Payroll",
		Branch:     "release-2.1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ACME/payroll/release-2.1", got)
}

func TestResolveAllPlaceholders(t *testing.T) {
	got, err := Resolve("{project}/{component}/{component_lower}/{branch}/{build_date}/{build_number}", Values{
		ProjectKey:  "ACME",
		Component:   "WebUI",
		Branch:      "main",
		BuildDate:   "20250102",
		BuildNumber: "1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ACME/WebUI/webui/main/20250102/1", got)
}

func TestResolveTrimsSlashes(t *testing.T) {
	got, err := Resolve("/{project}/{branch}/", Values{ProjectKey: "ACME", Branch: "main"})
	require.NoError(t, err)
	assert.Equal(t, "ACME/main", got)
}

func TestResolveUnrecognizedPlaceholder(t *testing.T) {
	_, err := Resolve("{project}/{flavor}", Values{ProjectKey: "ACME"})
	var terr *TemplateError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "flavor", terr.Placeholder)
	assert.Equal(t, "unrecognized placeholder", terr.Reason)
}

func TestResolveMissingValue(t *testing.T) {
	_, err := Resolve("{project}/{branch}", Values{Branch: "main"})
	var terr *TemplateError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "project", terr.Placeholder)
	assert.Equal(t, "no substitution value", terr.Reason)
}

func TestResolveMalformedBraces(t *testing.T) {
	_, err := Resolve("{Project}/{branch}", Values{ProjectKey: "ACME", Branch: "main"})
	var terr *TemplateError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "malformed placeholder", terr.Reason)
}

func TestResolveLiteralTemplate(t *testing.T) {
	got, err := Resolve("fixed/location", Values{})
	require.NoError(t, err)
	assert.Equal(t, "fixed/location", got)
}
