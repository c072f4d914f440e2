package flat

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/faceindex/vectorindex"
	"github.com/klauspost/compress/zstd"
)

// snapshot is the serialized form of the index. Entries carry the
// normalized vectors; normalization is not re-applied on load.
type snapshot struct {
	Dimension int
	Entries   []snapshotEntry
}

type snapshotEntry struct {
	ID           string
	Vector       []float32
	CollectionID string
	SubjectID    string
}

// SaveToWriter writes a zstd-compressed snapshot of the index.
func (f *Flat) SaveToWriter(w io.Writer) error {
	st := f.getState()

	snap := snapshot{Dimension: f.dimension}
	for _, r := range st.rows {
		if r == nil {
			continue
		}
		snap.Entries = append(snap.Entries, snapshotEntry{
			ID:           r.id,
			Vector:       r.vector,
			CollectionID: r.attrs.CollectionID,
			SubjectID:    r.attrs.SubjectID,
		})
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("flat: create zstd writer: %w", err)
	}

	if err := gob.NewEncoder(zw).Encode(snap); err != nil {
		_ = zw.Close()
		return fmt.Errorf("flat: encode snapshot: %w", err)
	}

	return zw.Close()
}

// SaveToFile writes a snapshot to the named file.
func (f *Flat) SaveToFile(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if err := f.SaveToWriter(file); err != nil {
		_ = file.Close()
		return err
	}

	return file.Close()
}

// LoadFromReader reconstructs an index from a snapshot written by
// SaveToWriter.
func LoadFromReader(r io.Reader) (*Flat, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("flat: create zstd reader: %w", err)
	}
	defer zr.Close()

	var snap snapshot
	if err := gob.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("flat: decode snapshot: %w", err)
	}

	f, err := New(func(o *Options) {
		o.Dimension = snap.Dimension
	})
	if err != nil {
		return nil, err
	}

	st := f.getState()
	for _, e := range snap.Entries {
		if len(e.Vector) != snap.Dimension {
			return nil, fmt.Errorf("flat: snapshot entry %s has dimension %d, expected %d", e.ID, len(e.Vector), snap.Dimension)
		}
		slot := uint32(len(st.rows))
		st.rows = append(st.rows, &row{
			id:     e.ID,
			vector: e.Vector,
			attrs: vectorindex.Attributes{
				CollectionID: e.CollectionID,
				SubjectID:    e.SubjectID,
			},
		})
		st.rowOf[e.ID] = slot
		collectionBitmap(st, e.CollectionID).Add(slot)
	}

	return f, nil
}

// LoadFromFile reconstructs an index from the named snapshot file.
func LoadFromFile(filename string) (*Flat, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadFromReader(file)
}
