package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunWatch_RejectsUnknownSource(t *testing.T) {
	cmd := newWatchCmd(new(string))
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	err := runWatch(context.Background(), cmd, t.TempDir(), t.TempDir(), "carrier-pigeon", false)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown --source")
}

func TestNewWatchCmd_DefaultsSourceToObsidian(t *testing.T) {
	dataDir := new(string)
	cmd := newWatchCmd(dataDir)

	flag := cmd.Flags().Lookup("source")
	assert.NotNil(t, flag)
	assert.Equal(t, "obsidian", flag.DefValue)
}
