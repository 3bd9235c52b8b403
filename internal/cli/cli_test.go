package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/alphagov/pay-ledger-sub002/internal/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	root := NewRootCommand()

	expected := map[string]bool{
		"serve": false, "migrate": false, "get": false,
		"events": false, "reproject": false, "seed": false,
	}
	for _, cmd := range root.Commands() {
		if _, ok := expected[cmd.Name()]; ok {
			expected[cmd.Name()] = true
		}
	}
	for name, found := range expected {
		assert.True(t, found, "command %q not registered", name)
	}

	migrate, _, err := root.Find([]string{"migrate"})
	require.NoError(t, err)
	var subs []string
	for _, c := range migrate.Commands() {
		subs = append(subs, c.Name())
	}
	assert.ElementsMatch(t, []string{"up", "down", "version"}, subs)
}

func TestArgsValidation(t *testing.T) {
	tests := [][]string{
		{"get", "payout"},
		{"events"},
		{"reproject"},
		{"migrate", "up", "extra"},
	}
	for _, args := range tests {
		_, err := execute(t, args...)
		assert.Error(t, err, "%v", args)
	}
}

func TestUnsupportedOutput(t *testing.T) {
	_, err := execute(t, "seed", "--dry-run", "-o", "table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestSeedDryRun(t *testing.T) {
	out, err := execute(t, "seed", "--dry-run", "--count", "3", "--types", "payout", "--seed", "9")
	require.NoError(t, err)

	var events []*models.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.NotEmpty(t, events)
	for _, e := range events {
		assert.Equal(t, models.ResourcePayout, e.ResourceType)
		assert.NotEmpty(t, e.DeliveryID)
	}
}

func TestSeedDryRun_YAML(t *testing.T) {
	out, err := execute(t, "seed", "--dry-run", "--count", "1", "--types", "agreement", "-o", "yaml")
	require.NoError(t, err)

	var events []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &events))
	require.NotEmpty(t, events)
	assert.Equal(t, "agreement", events[0]["resource_type"])
	assert.Equal(t, "AGREEMENT_CREATED", events[0]["event_type"])
}

func TestSeedRejectsTypes(t *testing.T) {
	for _, typ := range []string{"refund", "widget"} {
		_, err := execute(t, "seed", "--dry-run", "--types", typ)
		assert.Error(t, err, typ)
	}
	_, err := execute(t, "seed", "--dry-run", "--count", "0")
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	v := map[string]any{"state": "PAID_OUT", "event_count": 2}

	var buf bytes.Buffer
	require.NoError(t, render(&buf, formatJSON, v))
	assert.JSONEq(t, `{"state":"PAID_OUT","event_count":2}`, buf.String())

	buf.Reset()
	require.NoError(t, render(&buf, formatYAML, v))
	assert.Contains(t, buf.String(), "state: PAID_OUT")
	assert.Contains(t, buf.String(), "event_count: 2")
}
