package ci_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestGitHubWorkflowsExist(t *testing.T) {
	projectRoot := filepath.Clean(filepath.Join("..", ".."))
	artifacts := []struct {
		relativePath string
		requiredSnip []byte
	}{
		{
			relativePath: filepath.Join(".github", "workflows", "go-tests.yml"),
			requiredSnip: []byte("go test ./..."),
		},
		{
			relativePath: filepath.Join(".github", "workflows", "release.yml"),
			requiredSnip: []byte("docker build"),
		},
		{
			relativePath: "Dockerfile",
			requiredSnip: []byte("./cmd/campuspilot"),
		},
	}

	for _, artifact := range artifacts {
		data, err := os.ReadFile(filepath.Join(projectRoot, artifact.relativePath))
		if err != nil {
			t.Fatalf("read %q: %v", artifact.relativePath, err)
		}
		if !bytes.Contains(data, artifact.requiredSnip) {
			t.Fatalf("%q missing required snippet %q", artifact.relativePath, string(artifact.requiredSnip))
		}
	}
}
