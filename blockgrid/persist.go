package blockgrid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NebulousLabs/errors"
	"github.com/kevin-bruhwiler/Kowloon/blockstore"
)

// putPaceDelay is the ~3s pause the contract requires after every
// successful chunk put, to pace provisioned throughput. It is a var so
// tests can shrink it to zero.
var putPaceDelay = 3 * time.Second

// startupScanRadius bounds the cube of indices scanned around the origin
// on startup while rehydrating the grid.
const startupScanRadius = 9

// indexKey formats idx as the "x:y:z" string used both as the grid's wire
// key and as the prefix of its blockstore row keys.
func indexKey(idx Index) string {
	return fmt.Sprintf("%d:%d:%d", idx[0], idx[1], idx[2])
}

// parseIndexKey parses the "x:y:z" format back into an Index.
func parseIndexKey(s string) (Index, error) {
	var idx Index
	n, err := fmt.Sscanf(s, "%d:%d:%d", &idx[0], &idx[1], &idx[2])
	if err != nil || n != 3 {
		return Index{}, errors.New("malformed grid index key: " + s)
	}
	return idx, nil
}

// loadGrid rehydrates the grid from the store by scanning a bounded cube of
// indices around the origin, reassembling each cell's chunks in order. An
// empty result is the caller's cue to create a fresh genesis.
func (bg *Blockgrid) loadGrid() (Grid, error) {
	grid := make(Grid)
	for x := int64(-startupScanRadius); x <= startupScanRadius; x++ {
		for y := int64(-startupScanRadius); y <= startupScanRadius; y++ {
			for z := int64(-startupScanRadius); z <= startupScanRadius; z++ {
				idx := Index{x, y, z}
				cell, ok, err := bg.loadCell(idx)
				if err != nil {
					return nil, err
				}
				if ok {
					grid[idx] = cell
				}
			}
		}
	}
	return grid, nil
}

// loadCell reassembles one cell's chunks from the store, stopping at the
// first missing chunk index.
func (bg *Blockgrid) loadCell(idx Index) (*Cell, bool, error) {
	var buf bytes.Buffer
	for ix := 0; ; ix++ {
		name := fmt.Sprintf("%s_%d", indexKey(idx), ix)
		chunks, err := bg.store.QueryChunks(blockstore.Grid, name, -1)
		if err != nil {
			return nil, false, err
		}
		if len(chunks) == 0 {
			break
		}
		buf.Write(chunks[0].Value)
	}
	if buf.Len() == 0 {
		return nil, false, nil
	}
	var cell Cell
	if err := json.Unmarshal(buf.Bytes(), &cell); err != nil {
		return nil, false, errors.AddContext(err, "could not decode persisted cell "+indexKey(idx))
	}
	return &cell, true, nil
}

// saveCell serializes cell to JSON, splits it into MaxGridChunkChars-sized
// text chunks, and writes them in order, pacing between puts. It bumps
// cell.version once the write completes.
func (bg *Blockgrid) saveCell(cell *Cell) error {
	enc, err := json.Marshal(cell)
	if err != nil {
		return errors.AddContext(err, "could not encode cell "+indexKey(cell.Index))
	}
	text := string(enc)

	ix := 0
	for start := 0; start < len(text); start += blockstore.MaxGridChunkChars {
		end := start + blockstore.MaxGridChunkChars
		if end > len(text) {
			end = len(text)
		}
		key := blockstore.Key{Name: fmt.Sprintf("%s_%d", indexKey(cell.Index), ix)}
		if err := bg.store.PutChunk(blockstore.Grid, key, []byte(text[start:end])); err != nil {
			return err
		}
		time.Sleep(putPaceDelay)
		ix++
	}

	cell.version++
	return nil
}
