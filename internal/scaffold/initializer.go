// Package scaffold writes a starter forumtap.yml.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/forumtap/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// Initialize writes the starter configuration into dir. If force is true an
// existing forumtap.yml is replaced. Returns the path written.
func Initialize(dir string, force bool) (string, error) {
	path := filepath.Join(dir, config.DefaultPath)

	if force {
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("⚠️  Removing existing %s...\n", config.DefaultPath)
			if err := os.Remove(path); err != nil {
				return "", fmt.Errorf("failed to remove %s: %w", path, err)
			}
		}
	} else if err := CheckExisting(dir); err != nil {
		return "", err
	}

	content, err := templatesFS.ReadFile("templates/forumtap.yml.tmpl")
	if err != nil {
		return "", fmt.Errorf("failed to read %s template: %w", config.DefaultPath, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	// The template must always load cleanly.
	if _, err := config.Load(path); err != nil {
		return "", fmt.Errorf("created %s is invalid: %w", config.DefaultPath, err)
	}

	return path, nil
}

// CheckExisting returns an error if dir already holds a forumtap.yml.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, config.DefaultPath)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("project already initialized\n\nFound existing: %s\n\nUse 'forumtap init --force' to reinitialize (this will overwrite existing configuration)", path)
	}
	return nil
}

// PrintSuccess prints the next steps after Initialize.
func PrintSuccess(path string) {
	fmt.Println("\n✅ Successfully initialized forumtap!")
	fmt.Println("\nCreated:")
	fmt.Printf("  ✓ %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Enable the sinks you need under 'sinks:'")
	fmt.Println("  2. Run 'forumtap serve' and point the browser host at the host address")
	fmt.Println("  3. Run 'forumtap watch' to follow captured records")
}
