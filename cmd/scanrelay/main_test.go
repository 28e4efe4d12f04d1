package main

import (
	"testing"

	"github.com/jackzampolin/scanrelay/internal/config"
)

func TestSelectFolders(t *testing.T) {
	cfg := &config.Config{Folders: []config.FolderCfg{{Name: "scans"}, {Name: "po"}}}

	tests := []struct {
		name    string
		cfg     *config.Config
		names   []string
		want    []string
		wantErr bool
	}{
		{"all by default", cfg, nil, []string{"scans", "po"}, false},
		{"named", cfg, []string{"po"}, []string{"po"}, false},
		{"unknown", cfg, []string{"invoices"}, nil, true},
		{"none configured", &config.Config{}, nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectFolders(tt.cfg, tt.names)
			if (err != nil) != tt.wantErr {
				t.Fatalf("selectFolders() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d folders, want %v", len(got), tt.want)
			}
			for i := range got {
				if got[i].Name != tt.want[i] {
					t.Errorf("folder %d = %q, want %q", i, got[i].Name, tt.want[i])
				}
			}
		})
	}
}

func TestCommands(t *testing.T) {
	for _, path := range [][]string{
		{"watch"},
		{"process"},
		{"validate"},
		{"cache", "lookup"},
		{"cache", "refresh"},
		{"cache", "rebuild"},
		{"cache", "show"},
		{"report"},
		{"config", "init"},
		{"status"},
		{"version"},
	} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd == rootCmd {
			t.Errorf("command %v not registered", path)
		}
	}
}
