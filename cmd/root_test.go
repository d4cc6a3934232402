package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/inngest/mcpedge/pkg/version"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	buf := &bytes.Buffer{}
	app := newApp()
	app.Writer = buf

	require.NoError(t, app.Run(context.Background(), []string{"mcpedge", "version"}))
	require.Equal(t, version.Print(), strings.TrimSpace(buf.String()))
}

func TestLogFlags(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_HANDLER", "")

	app := newApp()
	app.Writer = &bytes.Buffer{}
	require.NoError(t, app.Run(context.Background(), []string{"mcpedge", "--json", "--verbose", "version"}))
	require.Equal(t, "json", os.Getenv("LOG_HANDLER"))
	require.Equal(t, "debug", os.Getenv("LOG_LEVEL"))

	t.Setenv("LOG_LEVEL", "")
	app = newApp()
	app.Writer = &bytes.Buffer{}
	require.NoError(t, app.Run(context.Background(), []string{"mcpedge", "-l", "warn", "version"}))
	require.Equal(t, "warn", os.Getenv("LOG_LEVEL"))
}
