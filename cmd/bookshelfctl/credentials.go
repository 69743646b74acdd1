package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"bookshelf/cmd/internal/authclient"
)

// credentialsFile is the on-disk shape. Only the refresh token is persisted; an access
// token is obtained by refreshing on the first call of each run.
type credentialsFile struct {
	Server       string    `json:"server"`
	RefreshToken string    `json:"refresh_token"`
	SavedAt      time.Time `json:"saved_at"`
}

// fileStore is an authclient.RefreshTokenStore backed by a 0600 JSON file. A token
// saved for a different server is treated as absent.
type fileStore struct {
	mu     sync.Mutex
	path   string
	server string
}

func newFileStore(path, server string) *fileStore {
	return &fileStore{path: path, server: server}
}

func (f *fileStore) Load(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", authclient.ErrNoRefreshToken
	}
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	var c credentialsFile
	if err := json.Unmarshal(raw, &c); err != nil {
		return "", fmt.Errorf("parse credentials %s: %w", f.path, err)
	}
	if c.RefreshToken == "" || c.Server != f.server {
		return "", authclient.ErrNoRefreshToken
	}
	return c.RefreshToken, nil
}

func (f *fileStore) Save(_ context.Context, tok string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(credentialsFile{Server: f.server, RefreshToken: tok, SavedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".credentials-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *fileStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
