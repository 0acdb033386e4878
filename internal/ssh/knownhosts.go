package ssh

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// NewHostKeyCallback verifies host keys against the known_hosts file at path,
// creating the file if needed and appending hosts seen for the first time. A
// host whose key changed is rejected. An empty path disables checking.
func NewHostKeyCallback(path string, log *zap.Logger) (ssh.HostKeyCallback, error) {
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // Operator disabled host key checking.
	}
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // Path is operator supplied.
	if err != nil {
		return nil, fmt.Errorf("create known_hosts: %w", err)
	}
	_ = f.Close()

	known, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}

	// Hosts added since the file was loaded; knownhosts does not reload.
	var (
		mu    sync.Mutex
		added = make(map[string][]byte)
	)
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := known(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if err == nil || !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return fmt.Errorf("host key mismatch for %s: %w", hostname, err)
		}

		host := knownhosts.Normalize(hostname)
		mu.Lock()
		defer mu.Unlock()

		if prev, ok := added[host]; ok {
			if !bytes.Equal(prev, key.Marshal()) {
				return fmt.Errorf("host key mismatch for %s", hostname)
			}
			return nil
		}

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // Path is operator supplied.
		if err != nil {
			return fmt.Errorf("open known_hosts: %w", err)
		}
		defer f.Close()

		line := knownhosts.Line([]string{host}, key)
		if _, err := f.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("write known_hosts: %w", err)
		}
		added[host] = key.Marshal()

		log.Info("added ssh host key", zap.String("host", hostname), zap.String("known_hosts", path))
		return nil
	}, nil
}
