package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tobert/pmda-agent/internal/options"
)

func counterAgent(stdout, stderr *bytes.Buffer) *Agent {
	return &Agent{
		Name:          "pmdacounter",
		Version:       "test",
		DefaultDomain: 450,
		Extra:         []options.OptionSpec{HelpfileOption},
		Stdout:        stdout,
		Stderr:        stderr,
	}
}

func TestOptionsCommandText(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := RootCommand(counterAgent(&stdout, &stderr)).Run(context.Background(), []string{"pmdacounter", "options"})
	require.NoError(t, err)

	assert.Contains(t, stdout.String(), "Usage: pmdacounter [options]")
	assert.Contains(t, stdout.String(), "--helpfile=FILE")
	assert.Contains(t, stdout.String(), "-i[PORT], --inet[=PORT]")
}

func TestOptionsCommandJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := RootCommand(counterAgent(&stdout, &stderr)).Run(context.Background(),
		[]string{"pmdacounter", "options", "--format", "json"})
	require.NoError(t, err)

	var doc catalogDoc
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &doc))
	assert.Equal(t, "pmdacounter", doc.Program)
	require.Len(t, doc.Options, 10)
	assert.Equal(t, optionDoc{Short: "d", Long: "domain", Argument: "required", ArgName: "NUM",
		Help: "use domain (numeric) for metrics domain of PMDA", Tag: "domain"}, doc.Options[1])
	assert.Equal(t, "optional", doc.Options[3].Argument)
	assert.Equal(t, "helpfile", doc.Options[9].Long)
	assert.Empty(t, doc.Options[9].Short)
	assert.Equal(t, "custom", doc.Options[9].Tag)
}

func TestOptionsCommandYAML(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := RootCommand(counterAgent(&stdout, &stderr)).Run(context.Background(),
		[]string{"pmdacounter", "options", "--format=yaml"})
	require.NoError(t, err)

	var doc catalogDoc
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &doc))
	require.Len(t, doc.Options, 10)
	assert.Equal(t, "?", doc.Options[2].Short)
	assert.Equal(t, "none", doc.Options[2].Argument)
}

func TestOptionsCommandUnknownFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := RootCommand(counterAgent(&stdout, &stderr)).Run(context.Background(),
		[]string{"pmdacounter", "options", "--format=toml"})
	assert.ErrorContains(t, err, `unknown format "toml"`)
}
