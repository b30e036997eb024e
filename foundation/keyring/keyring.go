// Package keyring reads a folder of root secret files and provides the
// lookup of owned clouds by id and by name.
package keyring

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
)

// Ext is the file extension of a root secret file.
const Ext = ".secret"

// Entry is one owned cloud.
type Entry struct {
	Name    string
	CloudID identity.CloudID
	Root    identity.RootSecret
}

// Keyring maintains the map of owned clouds.
type Keyring struct {
	mu     sync.RWMutex
	clouds map[identity.CloudID]Entry
}

// Empty constructs a keyring that owns no clouds.
func Empty() *Keyring {
	return &Keyring{
		clouds: make(map[identity.CloudID]Entry),
	}
}

// New constructs a keyring from every root secret file found under root.
// The file name without extension names the cloud.
func New(root string) (*Keyring, error) {
	kr := Empty()

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != Ext {
			return nil
		}

		rs, err := identity.LoadRootSecret(fileName)
		if err != nil {
			return fmt.Errorf("%s: %w", fileName, err)
		}

		if _, err := kr.Add(strings.TrimSuffix(path.Base(fileName), Ext), rs); err != nil {
			return fmt.Errorf("%s: %w", fileName, err)
		}

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return kr, nil
}

// Add registers the cloud owned through the root secret under the name.
func (kr *Keyring) Add(name string, rs identity.RootSecret) (Entry, error) {
	id, err := identity.Derive(rs)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{
		Name:    name,
		CloudID: id.CloudID,
		Root:    rs,
	}

	kr.mu.Lock()
	defer kr.mu.Unlock()

	kr.clouds[id.CloudID] = e

	return e, nil
}

// Lookup returns the owned cloud for the specified id.
func (kr *Keyring) Lookup(cloudID identity.CloudID) (Entry, bool) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	e, exists := kr.clouds[cloudID]
	return e, exists
}

// Find returns the owned cloud with the specified name.
func (kr *Keyring) Find(name string) (Entry, bool) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	for _, e := range kr.clouds {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Name returns the name of the cloud, or its short id when it is not owned.
func (kr *Keyring) Name(cloudID identity.CloudID) string {
	e, exists := kr.Lookup(cloudID)
	if !exists {
		return cloudID.Short()
	}
	return e.Name
}

// Copy returns a copy of the map of cloud ids and names.
func (kr *Keyring) Copy() map[identity.CloudID]string {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	cpy := make(map[identity.CloudID]string, len(kr.clouds))
	for id, e := range kr.clouds {
		cpy[id] = e.Name
	}
	return cpy
}
