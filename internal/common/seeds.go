package common

import (
	"fmt"
	"os"
	"path/filepath"

	"supplychain-tracker-go/internal/models"

	"gopkg.in/yaml.v2"
)

// UserSeed is one user entry of a seed file. Authorize marks manufacturers
// whose wallet should be authorized on the registry.
type UserSeed struct {
	Name          string      `yaml:"name"`
	Email         string      `yaml:"email"`
	Password      string      `yaml:"password"`
	WalletAddress string      `yaml:"wallet_address"`
	Role          models.Role `yaml:"role"`
	CompanyName   string      `yaml:"company_name"`
	Authorize     bool        `yaml:"authorize"`
}

type SeedsConfig struct {
	Users []UserSeed `yaml:"users"`
}

func LoadUserSeeds(seedFile string) ([]UserSeed, error) {
	var seedPath string
	if filepath.IsAbs(seedFile) {
		seedPath = seedFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		seedPath = filepath.Join(wd, seedFile)
	}

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", seedFile, err)
	}
	return parseUserSeeds(seedFile, data)
}

func parseUserSeeds(name string, data []byte) ([]UserSeed, error) {
	var config SeedsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", name, err)
	}

	for i, user := range config.Users {
		if user.Email == "" {
			return nil, fmt.Errorf("user at index %d missing email", i)
		}
		if user.WalletAddress == "" {
			return nil, fmt.Errorf("user at index %d missing wallet_address", i)
		}
		if !user.Role.Valid() {
			return nil, fmt.Errorf("user at index %d has invalid role %q", i, user.Role)
		}
		if user.Authorize && user.Role != models.RoleManufacturer {
			return nil, fmt.Errorf("user at index %d: only manufacturers can be authorized", i)
		}
	}

	return config.Users, nil
}
