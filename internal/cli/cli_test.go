package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sla-engine/internal/auth"
)

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPolicyValidate(t *testing.T) {
	out, err := run(t, PolicyCmd(), "validate", "../catalog/testdata/policies/support.toml")
	require.NoError(t, err)
	assert.Contains(t, out, "standard@2 response=60m resolution=480m")
	assert.Contains(t, out, "vip@1 response=15m")

	out, err = run(t, PolicyCmd(), "validate", "../catalog/testdata/policies")
	require.Error(t, err)
	assert.Contains(t, out, "INVALID broken@1")
}

func TestPolicyImportDryRun(t *testing.T) {
	out, err := run(t, PolicyCmd(), "import", "--dry-run", "../catalog/testdata/policies/support.toml")
	require.NoError(t, err)
	assert.Contains(t, out, "Would import 2 policies")

	_, err = run(t, PolicyCmd(), "import", "--dry-run", "../catalog/testdata/policies")
	assert.Error(t, err)
}

func TestCalendarCommands(t *testing.T) {
	out, err := run(t, CalendarCmd(), "minutes", "2024-01-12T16:00:00Z", "2024-01-15T10:00:00Z", "--business-hours")
	require.NoError(t, err)
	assert.Equal(t, "120", strings.TrimSpace(out))

	out, err = run(t, CalendarCmd(), "minutes", "2024-01-12T16:00:00Z", "2024-01-15T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "3960", strings.TrimSpace(out))

	out, err = run(t, CalendarCmd(), "due", "2024-01-12T16:00:00Z", "90", "--business-hours")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15T09:30:00Z", strings.TrimSpace(out))

	out, err = run(t, CalendarCmd(), "due", "2024-12-24T16:00:00Z", "120", "--business-hours", "--holidays", "2024-12-25,2024-12-26")
	require.NoError(t, err)
	assert.Equal(t, "2024-12-27T10:00:00Z", strings.TrimSpace(out))

	_, err = run(t, CalendarCmd(), "due", "2024-01-12T16:00:00Z", "90", "--business-hours", "--hours", "17:00-09:00")
	assert.Error(t, err)
}

func TestClientEntry(t *testing.T) {
	out, err := run(t, ClientCmd(), "entry", "helpdesk", "s3cret", "--role", "ingest", "--cost", "4")
	require.NoError(t, err)
	parts := strings.SplitN(strings.TrimSpace(out), ":", 3)
	require.Len(t, parts, 3)
	assert.Equal(t, "helpdesk", parts[0])
	assert.Equal(t, "ingest", parts[2])
	assert.NoError(t, auth.CompareSecret(parts[1], "s3cret"))
}
