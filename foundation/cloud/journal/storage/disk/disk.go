// Package disk implements the ability to read and write a cloud's mutations
// to disk, one JSON file per mutation.
package disk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"

	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/spf13/afero"
)

const evidenceFile = "compromised.json"

// Disk represents the storage implementation for reading and storing
// mutations in their own separate files. This implements the
// journal.Storage interface.
type Disk struct {
	fs     afero.Fs
	dbPath string
}

// New constructs a Disk value for use. The folder is created on the
// provided file system if it does not exist.
func New(fsys afero.Fs, dbPath string) (*Disk, error) {
	if err := fsys.MkdirAll(dbPath, 0700); err != nil {
		return nil, err
	}

	return &Disk{fs: fsys, dbPath: dbPath}, nil
}

// NewOS constructs a Disk value on the operating system's file system.
func NewOS(dbPath string) (*Disk, error) {
	return New(afero.NewOsFs(), dbPath)
}

// Close in this implementation has nothing to do since a new file is
// written for each mutation and then immediately closed.
func (d *Disk) Close() error {
	return nil
}

// Write takes the specified mutation and stores it in a file labeled with
// the mutation index. The file is written under a temporary name and then
// renamed so a crash never leaves a partial record behind.
func (d *Disk) Write(m journal.Mutation) error {

	// Marshal the mutation in a more human readable format.
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	return d.writeFile(d.getPath(m.Index), data)
}

// Read locates and returns the mutation at the specified index.
func (d *Disk) Read(index uint64) (journal.Mutation, error) {
	data, err := afero.ReadFile(d.fs, d.getPath(index))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return journal.Mutation{}, journal.ErrNotFound
		}
		return journal.Mutation{}, err
	}

	var m journal.Mutation
	if err := json.Unmarshal(data, &m); err != nil {
		return journal.Mutation{}, fmt.Errorf("decoding mutation[%d]: %w", index, err)
	}

	if m.Index != index {
		return journal.Mutation{}, fmt.Errorf("file for mutation[%d] holds mutation[%d]: %w", index, m.Index, journal.ErrCorruptRecord)
	}

	return m, nil
}

// ForEach returns an iterator to walk through all the mutations starting
// with the genesis mutation.
func (d *Disk) ForEach() journal.Iterator {
	return &diskIterator{disk: d}
}

// WriteEvidence records the proof of equivocation.
func (d *Disk) WriteEvidence(ev journal.Evidence) error {
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return err
	}

	return d.writeFile(path.Join(d.dbPath, evidenceFile), data)
}

// ReadEvidence returns the proof of equivocation if one was recorded.
func (d *Disk) ReadEvidence() (journal.Evidence, bool, error) {
	data, err := afero.ReadFile(d.fs, path.Join(d.dbPath, evidenceFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return journal.Evidence{}, false, nil
		}
		return journal.Evidence{}, false, err
	}

	var ev journal.Evidence
	if err := json.Unmarshal(data, &ev); err != nil {
		return journal.Evidence{}, false, fmt.Errorf("decoding evidence: %w", err)
	}

	return ev, true, nil
}

// getPath forms the path to the specified mutation.
func (d *Disk) getPath(index uint64) string {
	name := strconv.FormatUint(index, 10)
	return path.Join(d.dbPath, fmt.Sprintf("%s.json", name))
}

// writeFile writes the data to a temporary file and renames it into place.
func (d *Disk) writeFile(name string, data []byte) error {
	f, err := afero.TempFile(d.fs, d.dbPath, "write-")
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		d.fs.Remove(f.Name())
		return err
	}

	if err := f.Close(); err != nil {
		d.fs.Remove(f.Name())
		return err
	}

	return d.fs.Rename(f.Name(), name)
}

// =============================================================================

// diskIterator represents the iteration implementation for walking
// through and reading mutations on disk. This implements the
// journal.Iterator interface.
type diskIterator struct {
	disk    *Disk  // Access to the storage API.
	current uint64 // Next mutation index to read.
	eoj     bool   // Represents the iterator is at the end of the journal.
}

// Next retrieves the next mutation from disk.
func (di *diskIterator) Next() (journal.Mutation, error) {
	if di.eoj {
		return journal.Mutation{}, journal.ErrEndOfJournal
	}

	m, err := di.disk.Read(di.current)
	if errors.Is(err, journal.ErrNotFound) {
		di.eoj = true
		return journal.Mutation{}, journal.ErrEndOfJournal
	}
	if err != nil {
		return journal.Mutation{}, err
	}
	di.current++

	return m, nil
}

// Done returns the end of journal value.
func (di *diskIterator) Done() bool {
	return di.eoj
}
