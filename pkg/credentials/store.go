// Package credentials persists paired-channel authentication material
// outside the relational store, one opaque blob per integration.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store reads and writes opaque credential blobs keyed by integration id.
type Store interface {
	// Path returns the durable reference for an integration's blob.
	Path(integrationID uuid.UUID) string
	// Exists reports whether a blob is present.
	Exists(integrationID uuid.UUID) (bool, error)
	// Read returns the stored blob. Missing blobs are an error.
	Read(integrationID uuid.UUID) ([]byte, error)
	// Write replaces the stored blob.
	Write(integrationID uuid.UUID, data []byte) error
	// Ensure creates an empty blob if none exists yet.
	Ensure(integrationID uuid.UUID) error
	// Delete removes the blob. Deleting an absent blob is not an error.
	Delete(integrationID uuid.UUID) error
}

// FileStore keeps one file per integration under a root directory.
type FileStore struct {
	root string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("credential store root is required")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credential store root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Path returns the durable reference for an integration's blob.
func (s *FileStore) Path(integrationID uuid.UUID) string {
	return filepath.Join(s.root, integrationID.String()+".creds")
}

// Exists reports whether a blob is present.
func (s *FileStore) Exists(integrationID uuid.UUID) (bool, error) {
	_, err := os.Stat(s.Path(integrationID))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Read returns the stored blob.
func (s *FileStore) Read(integrationID uuid.UUID) ([]byte, error) {
	data, err := os.ReadFile(s.Path(integrationID))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials for %s: %w", integrationID, err)
	}
	return data, nil
}

// Write replaces the stored blob. Written atomically so a crash mid-write
// never leaves a truncated credential file behind.
func (s *FileStore) Write(integrationID uuid.UUID, data []byte) error {
	path := s.Path(integrationID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials for %s: %w", integrationID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write credentials for %s: %w", integrationID, err)
	}
	return nil
}

// Ensure creates an empty blob if none exists yet, so a fresh connection
// attempt always has a credential entry to hand the transport.
func (s *FileStore) Ensure(integrationID uuid.UUID) error {
	ok, err := s.Exists(integrationID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.Write(integrationID, nil)
}

// Delete removes the blob. Idempotent.
func (s *FileStore) Delete(integrationID uuid.UUID) error {
	err := os.Remove(s.Path(integrationID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete credentials for %s: %w", integrationID, err)
	}
	return nil
}
