package main

import (
	"os"
	"path/filepath"
	"testing"

	"hoplink/internal/config"
)

func TestResolveServer(t *testing.T) {
	servers := []config.Server{
		{Name: "Edge Gateway", RDP: "10.40.0.10", VPN: "EDGE-GW"},
		{Name: "Plant Floor", RDP: "10.50.1.20", VPN: "PLANT"},
		{Name: "Warehouse", RDP: "192.168.12.10", VPN: "WAREHOUSE"},
	}

	cases := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{"first index", "1", "Edge Gateway", false},
		{"last index", "3", "Warehouse", false},
		{"index zero", "0", "", true},
		{"index past end", "4", "", true},
		{"negative index", "-1", "", true},
		{"exact name", "Plant Floor", "Plant Floor", false},
		{"case insensitive name", "edge gateway", "Edge Gateway", false},
		{"mixed case name", "WAREHOUSE", "Warehouse", false},
		{"unknown name", "Backoffice", "", true},
		{"empty reference", "", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, err := resolveServer(servers, tc.ref)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("resolveServer(%q) = %q, want error", tc.ref, srv.Name)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveServer(%q): %v", tc.ref, err)
			}
			if srv.Name != tc.want {
				t.Fatalf("resolveServer(%q) = %q, want %q", tc.ref, srv.Name, tc.want)
			}
		})
	}
}

func TestLoadCatalogFallsBackToBuiltin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.toml")

	cfg, err := loadCatalog(path, false)
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	if len(cfg.Servers) == 0 {
		t.Fatal("built-in catalog is empty")
	}
}

func TestLoadCatalogExplicitMissingIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.toml")

	if _, err := loadCatalog(path, true); err == nil {
		t.Fatal("missing explicit catalog did not error")
	}
}

func TestLoadCatalogReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.toml")
	body := `
[[servers]]
name = "Edge Gateway"
rdp = "10.40.0.10"
vpn = "EDGE-GW"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadCatalog(path, true)
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0].Name != "Edge Gateway" {
		t.Fatalf("servers = %+v", cfg.Servers)
	}
}

func TestLoadCatalogMalformedIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.toml")
	if err := os.WriteFile(path, []byte("[[servers\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Parse errors are fatal even when the path came from the defaults.
	if _, err := loadCatalog(path, false); err == nil {
		t.Fatal("malformed catalog did not error")
	}
}
