package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/remotehive-autoscraper/internal/config"
	"github.com/JakeFAU/remotehive-autoscraper/internal/server"
)

type fakeApp struct {
	ran bool
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return nil
}

// These tests swap the package-level factory, so they do not run in parallel.

func TestRoleCommandsBuildTheirRole(t *testing.T) {
	original := newApp
	t.Cleanup(func() { newApp = original })

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("engine:\n  max_concurrent: 2\n"), 0o600))

	cases := map[string]server.Role{
		"api":         server.RoleWeb,
		"autoscraper": server.RoleAutoscraper,
		"worker":      server.RoleWorker,
		"beat":        server.RoleBeat,
	}
	for use, want := range cases {
		var (
			gotRole server.Role
			gotCfg  config.Config
			app     = &fakeApp{}
		)
		newApp = func(_ context.Context, cfg config.Config, role server.Role) (runnable, error) {
			gotRole, gotCfg = role, cfg
			return app, nil
		}
		root := newRootCmd()
		root.SetArgs([]string{use, "--config", cfgPath})
		require.NoError(t, root.Execute(), use)
		require.Equal(t, want, gotRole)
		require.Equal(t, 2, gotCfg.Engine.MaxConcurrent)
		require.True(t, app.ran)
	}
}

func TestRoleCommandReportsBuildFailure(t *testing.T) {
	original := newApp
	t.Cleanup(func() { newApp = original })
	newApp = func(context.Context, config.Config, server.Role) (runnable, error) {
		return nil, errors.New("redis unreachable")
	}

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"worker"})
	err := root.Execute()
	require.ErrorContains(t, err, "failed to initialize worker: redis unreachable")
}

func TestMissingConfigFileFails(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"api", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.ErrorContains(t, root.Execute(), "load config")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	require.Equal(t, "remotehive "+Version+"\n", out.String())
}
