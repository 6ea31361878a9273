package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"supplychain-tracker-go/internal/models"
)

func TestLoadUserSeeds(t *testing.T) {
	content := `users:
  - name: Acme Manufacturing
    email: acme@example.com
    password: password123
    wallet_address: "0x00000000000000000000000000000000000000aa"
    role: manufacturer
    company_name: Acme
    authorize: true
  - name: Corner Shop
    email: shop@example.com
    password: password123
    wallet_address: "0x00000000000000000000000000000000000000bb"
    role: retailer
`
	path := filepath.Join(t.TempDir(), "users.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write seed file: %v", err)
	}

	seeds, err := LoadUserSeeds(path)
	if err != nil {
		t.Fatalf("LoadUserSeeds failed: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("Expected 2 seeds, got %d", len(seeds))
	}
	if seeds[0].Role != models.RoleManufacturer || !seeds[0].Authorize || seeds[0].CompanyName != "Acme" {
		t.Errorf("Unexpected first seed: %+v", seeds[0])
	}
	if seeds[1].Authorize {
		t.Error("Expected retailer seed not to be authorized")
	}
}

func TestParseUserSeeds_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing email",
			content: "users:\n  - wallet_address: \"0xaa\"\n    role: retailer\n",
			want:    "missing email",
		},
		{
			name:    "missing wallet",
			content: "users:\n  - email: a@example.com\n    role: retailer\n",
			want:    "missing wallet_address",
		},
		{
			name:    "bad role",
			content: "users:\n  - email: a@example.com\n    wallet_address: \"0xaa\"\n    role: admin\n",
			want:    "invalid role",
		},
		{
			name:    "authorize retailer",
			content: "users:\n  - email: a@example.com\n    wallet_address: \"0xaa\"\n    role: retailer\n    authorize: true\n",
			want:    "only manufacturers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseUserSeeds("users.yaml", []byte(tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadUserSeeds_MissingFile(t *testing.T) {
	if _, err := LoadUserSeeds(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
