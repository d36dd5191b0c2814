package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"lectern/internal/config"
	"lectern/internal/ipc"
	"lectern/internal/registry"
)

type commandContext struct {
	socketFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

const socketFilename = "lectern.sock"

func (c *commandContext) socketPath() string {
	if c.socketFlag == nil {
		return c.defaultSocketPath()
	}
	if strings.TrimSpace(*c.socketFlag) == "" {
		*c.socketFlag = c.defaultSocketPath()
	}
	return *c.socketFlag
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	client, err := c.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) dialClient() (*ipc.Client, error) {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return nil, wrapDialError(err, socket)
	}
	return client, nil
}

// withRegistry hands read commands an IPC client when the daemon answers and
// a direct registry store otherwise. Exactly one of the two arguments is
// non-nil.
func (c *commandContext) withRegistry(fn func(client *ipc.Client, store *registry.Store) error) error {
	socket := c.socketPath()
	client, dialErr := ipc.Dial(socket)
	if dialErr == nil {
		defer client.Close()
		return fn(client, nil)
	}

	cfg, err := c.ensureConfig()
	if err != nil {
		return wrapDialError(dialErr, socket)
	}
	store, err := registry.Open(cfg)
	if err != nil {
		return wrapDialError(dialErr, socket)
	}
	defer store.Close()
	return fn(nil, store)
}

// apiEndpoint resolves the daemon HTTP API bind and token. A running
// daemon's reported bind wins over the configured one so ephemeral ports
// still resolve.
func (c *commandContext) apiEndpoint() (bind, token string) {
	if cfg := c.configValue(); cfg != nil {
		bind = strings.TrimSpace(cfg.Paths.APIBind)
		token = cfg.Paths.APIToken
	}
	client, err := ipc.Dial(c.socketPath())
	if err != nil {
		return bind, token
	}
	defer client.Close()
	if status, err := client.Status(); err == nil && strings.TrimSpace(status.APIBind) != "" {
		bind = strings.TrimSpace(status.APIBind)
	}
	return bind, token
}

func wrapDialError(err error, socket string) error {
	switch {
	case errors.Is(err, syscall.ENOENT) || os.IsNotExist(err):
		return fmt.Errorf("connect to daemon: socket %s not found; start the daemon with `lectern start`", socket)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: socket %s refused the connection; verify the daemon is running", socket)
	default:
		return fmt.Errorf("connect to daemon: %w", err)
	}
}

func (c *commandContext) defaultSocketPath() string {
	if cfg := c.configValue(); cfg != nil {
		return filepath.Join(cfg.Paths.LogDir, socketFilename)
	}

	logDir, err := config.ExpandPath("~/.local/share/lectern/logs")
	if err != nil {
		return filepath.Join(os.TempDir(), socketFilename)
	}
	return filepath.Join(logDir, socketFilename)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
