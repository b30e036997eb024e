package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// profile is the metadata of an owned cloud. It never leaves the device.
type profile struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	CloudID     string    `yaml:"cloud_id"`
	CreatedAt   time.Time `yaml:"created_at"`
}

func loadProfile(path string) (profile, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return profile{}, fmt.Errorf("reading profile: %w", err)
	}

	var p profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return profile{}, fmt.Errorf("decoding profile %s: %w", path, err)
	}

	return p, nil
}

func saveProfile(path string, p profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}

	return afero.WriteFile(fs, path, data, 0600)
}
