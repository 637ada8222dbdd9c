// Package scaffold writes a starter taskboard.yml.
package scaffold

import (
	"embed"
	"fmt"
	"os"

	"github.com/dyluth/taskboard/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// Template returns the starter configuration.
func Template() ([]byte, error) {
	content, err := templatesFS.ReadFile("templates/taskboard.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read taskboard.yml template: %w", err)
	}
	return content, nil
}

// CheckExisting returns an error if a configuration already exists at path.
func CheckExisting(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return nil
}

// Initialize writes the starter configuration to path and checks that it
// loads. Unless force is set an existing file is left alone.
func Initialize(path string, force bool) error {
	if !force {
		if err := CheckExisting(path); err != nil {
			return err
		}
	}

	content, err := Template()
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("created %s does not load: %w", path, err)
	}
	return nil
}
