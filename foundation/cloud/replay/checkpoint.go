package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/spf13/afero"
)

// Checkpoint interface represents the behavior required to remember the
// next index to replay for each cloud.
type Checkpoint interface {
	Load(cloudID identity.CloudID) (uint64, error)
	Save(cloudID identity.CloudID, next uint64) error
}

// =============================================================================

// MemoryCheckpoint keeps progress in memory.
type MemoryCheckpoint struct {
	mu   sync.Mutex
	next map[identity.CloudID]uint64
}

// NewMemoryCheckpoint constructs an empty in memory checkpoint.
func NewMemoryCheckpoint() *MemoryCheckpoint {
	return &MemoryCheckpoint{
		next: make(map[identity.CloudID]uint64),
	}
}

// Load returns the next index to replay, zero for an unknown cloud.
func (c *MemoryCheckpoint) Load(cloudID identity.CloudID) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.next[cloudID], nil
}

// Save records the next index to replay.
func (c *MemoryCheckpoint) Save(cloudID identity.CloudID, next uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next[cloudID] = next
	return nil
}

// =============================================================================

type checkpointFile struct {
	CloudID identity.CloudID `json:"cloud_id"`
	Next    uint64           `json:"next"`
}

// FileCheckpoint keeps progress in one JSON file per cloud.
type FileCheckpoint struct {
	fs   afero.Fs
	path string
}

// NewFileCheckpoint constructs a checkpoint rooted at the specified folder.
func NewFileCheckpoint(fs afero.Fs, path string) (*FileCheckpoint, error) {
	if err := fs.MkdirAll(path, 0755); err != nil {
		return nil, err
	}

	return &FileCheckpoint{fs: fs, path: path}, nil
}

// Load returns the next index to replay, zero when nothing was saved.
func (c *FileCheckpoint) Load(cloudID identity.CloudID) (uint64, error) {
	data, err := afero.ReadFile(c.fs, c.fileName(cloudID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	var cf checkpointFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return 0, fmt.Errorf("decoding checkpoint: %w", err)
	}

	if cf.CloudID != cloudID {
		return 0, fmt.Errorf("checkpoint holds cloud %s, exp %s", cf.CloudID.Short(), cloudID.Short())
	}

	return cf.Next, nil
}

// Save records the next index to replay. The file is replaced by rename so
// a crash leaves either the old or the new value.
func (c *FileCheckpoint) Save(cloudID identity.CloudID, next uint64) error {
	data, err := json.Marshal(checkpointFile{CloudID: cloudID, Next: next})
	if err != nil {
		return err
	}

	name := c.fileName(cloudID)
	tmp := name + ".tmp"

	if err := afero.WriteFile(c.fs, tmp, data, 0600); err != nil {
		return err
	}

	return c.fs.Rename(tmp, name)
}

func (c *FileCheckpoint) fileName(cloudID identity.CloudID) string {
	return filepath.Join(c.path, cloudID.String()+".json")
}
