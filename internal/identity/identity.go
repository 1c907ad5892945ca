// Package identity resolves the git commit identity a run's implement
// phase commits under, and caches it on disk so repeated runs against the
// same home don't re-shell to git every time.
package identity

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Identity is the name/email pair attributed to commits the worker makes.
type Identity struct {
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
	Source string `yaml:"source,omitempty"` // "git" or "default"
}

// DefaultIdentity is used when git config has neither user.name nor user.email set.
var DefaultIdentity = Identity{Name: "forgequeue-bot", Email: "forgequeue-bot@localhost", Source: "default"}

// DetectFromGit runs `git config --get user.name`/`user.email` in repoDir
// (or in the process's current directory if repoDir is empty, which reads
// only the global and system config when that directory is not a repo). Missing values are left
// blank rather than erroring, since an unset git config is common in a
// freshly cloned worktree.
func DetectFromGit(repoDir string) (Identity, error) {
	var id Identity
	id.Source = "git"
	if name, err := gitConfig(repoDir, "user.name"); err == nil {
		id.Name = strings.TrimSpace(name)
	}
	if email, err := gitConfig(repoDir, "user.email"); err == nil {
		id.Email = strings.TrimSpace(email)
	}
	return id, nil
}

func gitConfig(repoDir, key string) (string, error) {
	cmd := exec.Command("git", "config", "--get", key)
	if repoDir != "" {
		cmd.Dir = repoDir
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Path returns the cached identity file: <home>/identity.yaml.
func Path(home string) string {
	return filepath.Join(home, "identity.yaml")
}

// Load reads the cached identity, returning nil (not an error) if none has
// been saved yet.
func Load(home string) (*Identity, error) {
	data, err := os.ReadFile(Path(home))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var id Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// Save writes the identity to <home>/identity.yaml.
func Save(home string, id Identity) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(id)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(home), data, 0o644)
}

// Resolve returns the cached identity for home, detecting it from repoDir's
// git config and caching it on first use. Falls back to DefaultIdentity
// when git config has neither field set.
func Resolve(home, repoDir string) (Identity, error) {
	cached, err := Load(home)
	if err != nil {
		return Identity{}, err
	}
	if cached != nil {
		return *cached, nil
	}

	id, err := DetectFromGit(repoDir)
	if err != nil {
		return Identity{}, err
	}
	if id.Name == "" && id.Email == "" {
		id = DefaultIdentity
	}
	if err := Save(home, id); err != nil {
		return Identity{}, err
	}
	return id, nil
}
