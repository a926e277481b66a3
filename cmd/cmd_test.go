package cmd_test

import (
	"bytes"
	"testing"

	"github.com/mautops/branch-ops/cmd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRootCommand_Subcommands 测试子命令注册
func TestRootCommand_Subcommands(t *testing.T) {
	root := cmd.GetRootCmd()
	assert.Equal(t, "branch-ops", root.Use)

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"server", "migrate", "poll", "fga-model"})

	server, _, err := root.Find([]string{"server"})
	require.NoError(t, err)
	assert.NotNil(t, server.Flags().Lookup("port"))
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

// TestFGAModelCommand 测试输出授权模型
func TestFGAModelCommand(t *testing.T) {
	root := cmd.GetRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"fga-model"})
	t.Cleanup(func() { root.SetArgs(nil) })

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "type branch")
	assert.Contains(t, out.String(), "define stock_manager")
}
