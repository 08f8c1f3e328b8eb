// Package sshexec runs individual commands on a remote host over SSH. It is
// the transport behind drift hash fetches and custom smoke checks; deployment
// itself goes through the external executor, not this package.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/artpar/shipmate/internal/core/domain"
	"golang.org/x/crypto/ssh"
)

// Client executes commands on one remote host. A connection is established
// lazily and reused across commands; a dead connection is redialed on the
// next call.
type Client struct {
	target  domain.Target
	auth    []ssh.AuthMethod
	timeout time.Duration

	mu        sync.Mutex // Protects sshClient
	sshClient *ssh.Client
}

// Config configures the SSH client.
type Config struct {
	CommandTimeout time.Duration // Default: 10 seconds
	ConnectTimeout time.Duration // Default: 10 seconds
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		CommandTimeout: 10 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// NewClient creates an SSH client for the given target. Private-key auth is
// preferred; password auth is the fallback.
func NewClient(target domain.Target, cfg Config) (*Client, error) {
	if target.Host == "" {
		return nil, domain.ErrHostRequired
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 10 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	var auth []ssh.AuthMethod
	if target.PrivateKeyPath != "" {
		key, err := os.ReadFile(target.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read SSH private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse SSH private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if target.Password != "" {
		auth = append(auth, ssh.Password(target.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("target %s: either a private key or a password is required", target.Host)
	}

	return &Client{
		target:  target,
		auth:    auth,
		timeout: cfg.CommandTimeout,
	}, nil
}

// connect establishes the SSH connection if not already connected.
func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sshClient != nil {
		_, _, err := c.sshClient.SendRequest("keepalive@shipmate", true, nil)
		if err == nil {
			return nil
		}
		// Connection dead, reconnect
		c.sshClient.Close()
		c.sshClient = nil
	}

	host, port := c.target.Addr()
	user := c.target.User
	if user == "" {
		user = "root"
	}
	config := &ssh.ClientConfig{
		User:            user,
		Auth:            c.auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Matches StrictHostKeyChecking=no in the inventory
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return fmt.Errorf("SSH dial %s: %w", addr, err)
	}

	c.sshClient = client
	return nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sshClient != nil {
		err := c.sshClient.Close()
		c.sshClient = nil
		return err
	}
	return nil
}

// Output runs a command on the remote host and returns its stdout.
// A non-zero remote exit or a timeout is an error.
func (c *Client) Output(ctx context.Context, command string) (string, error) {
	if err := c.connect(); err != nil {
		return "", err
	}

	c.mu.Lock()
	session, err := c.sshClient.NewSession()
	c.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("create SSH session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(c.timeout):
		return "", fmt.Errorf("command timeout after %v", c.timeout)
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("remote command failed: %w, stderr: %s", err, stderr.String())
		}
		return stdout.String(), nil
	}
}

// FileSHA256 returns the SHA-256 digest of a remote file, computed on the
// remote host via sha256sum. An empty result means the file could not be
// hashed.
func (c *Client) FileSHA256(ctx context.Context, path string) (string, error) {
	out, err := c.Output(ctx, fmt.Sprintf("sha256sum %s", path))
	if err != nil {
		return "", err
	}
	// sha256sum output: "<hash>  <filename>"
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("unexpected sha256sum output: %q", out)
	}
	return fields[0], nil
}
