package blockgrid

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"

	"github.com/kevin-bruhwiler/Kowloon/blockstore"
)

// GetCellData returns the entry list at index, filtered to approved
// entries unless requesterIsModerator is true. since is accepted for
// parity with the HTTP surface but the underlying data is not itself
// time-partitioned; callers wanting only newer entries should compare
// against Entry.Updated themselves.
func (bg *Blockgrid) GetCellData(index Index, since int64, requesterIsModerator bool) ([]Entry, error) {
	cell, ok := bg.Cell(index)
	if !ok {
		return nil, ErrCellNotFound
	}
	out := make([]Entry, 0, len(cell.Data))
	for _, entry := range cell.Data {
		if !requesterIsModerator && !entry.Approved {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// GetCellBundles streams a ZIP archive of every bundle referenced by
// index's visible entries whose chunks were uploaded after sinceMs. Each
// referenced filepath appears as at most one ZIP entry.
func (bg *Blockgrid) GetCellBundles(index Index, sinceMs int64, requesterIsModerator bool, w io.Writer) error {
	entries, err := bg.GetCellData(index, sinceMs, requesterIsModerator)
	if err != nil {
		return err
	}

	filepaths := make(map[string]struct{})
	for _, entry := range entries {
		var assets map[string]map[string]interface{}
		if err := json.Unmarshal([]byte(entry.Data), &assets); err != nil {
			continue
		}
		for _, fields := range assets {
			if fp, ok := fields["filepath"].(string); ok && fp != "" {
				filepaths[fp] = struct{}{}
			}
		}
	}

	zw := zip.NewWriter(w)
	for filepath := range filepaths {
		data, found, err := bg.readBundle(filepath, sinceMs)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		fw, err := zw.Create(filepath)
		if err != nil {
			return err
		}
		if _, err := fw.Write(data); err != nil {
			return err
		}
	}
	return zw.Close()
}

// ReferencedFilepaths returns the set of every filepath referenced by any
// entry in any cell, regardless of approval status, for the maintenance
// sweeper to protect from garbage collection.
func (bg *Blockgrid) ReferencedFilepaths() map[string]struct{} {
	grid := bg.Snapshot()
	referenced := make(map[string]struct{})
	for _, cell := range grid {
		for _, entry := range cell.Data {
			var assets map[string]map[string]interface{}
			if err := json.Unmarshal([]byte(entry.Data), &assets); err != nil {
				continue
			}
			for _, fields := range assets {
				if fp, ok := fields["filepath"].(string); ok && fp != "" {
					referenced[fp] = struct{}{}
				}
			}
		}
	}
	return referenced
}

// readBundle reassembles a bundle's chunks in order, skipping any chunk
// uploaded at or before sinceMs.
func (bg *Blockgrid) readBundle(name string, sinceMs int64) ([]byte, bool, error) {
	var buf bytes.Buffer
	found := false
	for ix := 0; ; ix++ {
		chunks, err := bg.store.QueryChunks(blockstore.Assets, bundleChunkName(name, ix), sinceMs)
		if err != nil {
			return nil, false, err
		}
		if len(chunks) == 0 {
			break
		}
		buf.Write(chunks[0].Value)
		found = true
	}
	return buf.Bytes(), found, nil
}
