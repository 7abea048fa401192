package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "once"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %s: %v", name, err)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("--config flag missing")
	}
}

func TestOnce_MissingConfigFile(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"once", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	root.SilenceErrors = true
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "config load") {
		t.Fatalf("err = %v, want config load failure", err)
	}
}
