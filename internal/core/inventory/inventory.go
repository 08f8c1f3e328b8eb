// Package inventory renders the ephemeral target description consumed by the
// external executor. The output is a structured host list with per-host
// connection parameters, written to a transient file that only the executor
// reads.
package inventory

import (
	"errors"
	"fmt"
	"os"

	"github.com/artpar/shipmate/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// ErrNoTargets is returned when an inventory is built without any host.
var ErrNoTargets = errors.New("inventory requires at least one target")

// pythonInterpreter is pinned so the executor does not guess on the remote.
const pythonInterpreter = "/usr/bin/python3"

// hostEntry is one host in the rendered inventory.
type hostEntry struct {
	Host          string `yaml:"ansible_host"`
	User          string `yaml:"ansible_user,omitempty"`
	Port          int    `yaml:"ansible_port,omitempty"`
	Connection    string `yaml:"ansible_connection"`
	SSHCommonArgs string `yaml:"ansible_ssh_common_args"`
	PrivateKey    string `yaml:"ansible_ssh_private_key_file,omitempty"`
	Password      string `yaml:"ansible_ssh_pass,omitempty"`
}

type hostGroup struct {
	Hosts map[string]hostEntry `yaml:"hosts"`
	Vars  map[string]string    `yaml:"vars"`
}

type inventoryFile struct {
	All hostGroup `yaml:"all"`
}

// Build renders the inventory YAML for the given targets. A single target is
// named "target_host"; multiple targets get stable "host_<i>" names so runs
// stay diffable.
func Build(targets []domain.Target) ([]byte, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	hosts := make(map[string]hostEntry, len(targets))
	for i, t := range targets {
		if t.Host == "" {
			return nil, domain.ErrHostRequired
		}
		name := "target_host"
		if len(targets) > 1 {
			name = fmt.Sprintf("host_%d", i)
		}

		entry := hostEntry{
			Host:          t.Host,
			User:          t.User,
			Connection:    "ssh",
			SSHCommonArgs: "-o StrictHostKeyChecking=no",
		}
		if t.Port != 0 && t.Port != 22 {
			entry.Port = t.Port
		}
		// Key auth wins when both are set.
		if t.PrivateKeyPath != "" {
			entry.PrivateKey = t.PrivateKeyPath
		} else if t.Password != "" {
			entry.Password = t.Password
		}
		hosts[name] = entry
	}

	inv := inventoryFile{
		All: hostGroup{
			Hosts: hosts,
			Vars:  map[string]string{"ansible_python_interpreter": pythonInterpreter},
		},
	}
	out, err := yaml.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("marshal inventory: %w", err)
	}
	return out, nil
}

// WriteTransient renders the inventory to a temporary file and returns its
// path with a cleanup function. The file contains credentials when password
// auth is used, so it is created 0600 and callers must always invoke cleanup.
func WriteTransient(targets []domain.Target) (string, func(), error) {
	content, err := Build(targets)
	if err != nil {
		return "", nil, err
	}

	f, err := os.CreateTemp("", "shipmate-inventory-*.yml")
	if err != nil {
		return "", nil, fmt.Errorf("create inventory file: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }

	if err := os.Chmod(path, 0600); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("chmod inventory file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write inventory file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close inventory file: %w", err)
	}
	return path, cleanup, nil
}
