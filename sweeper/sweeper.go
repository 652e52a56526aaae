// Package sweeper implements the periodic maintenance scan that deletes
// asset-chunk rows no cell in the live grid still references. It never
// touches the Grid table: the grid is the sweeper's input, not its output.
package sweeper

import (
	"log"
	"strings"
	"time"

	"github.com/NebulousLabs/threadgroup"
	"github.com/kevin-bruhwiler/Kowloon/blockstore"
)

// Interval is how often the sweeper runs, per spec.md §4.8.
const Interval = 3 * 24 * time.Hour

// Grid is the subset of *blockgrid.Blockgrid the sweeper reads from; it
// takes an interface rather than the concrete type so tests can supply a
// stub referenced-filepath set without standing up a whole grid.
type Grid interface {
	ReferencedFilepaths() map[string]struct{}
}

// Sweeper periodically scans the Assets table and deletes any chunk whose
// logical bundle name is no longer referenced by any cell. It runs on its
// own thread, managed by a threadgroup.ThreadGroup so shutdown can drain a
// sweep already in flight rather than kill it mid-scan.
type Sweeper struct {
	tg    threadgroup.ThreadGroup
	grid  Grid
	store *blockstore.Retrying
	log   *log.Logger
}

// New returns a Sweeper that reads the referenced-filepath set from grid
// and sweeps store. Call Start to begin its background loop.
func New(grid Grid, store *blockstore.Retrying, logger *log.Logger) *Sweeper {
	return &Sweeper{
		grid:  grid,
		store: store,
		log:   logger,
	}
}

// Start launches the background sweep loop. It returns immediately; the
// first sweep runs after Interval elapses, not immediately, mirroring a
// periodic scheduler's first tick rather than a startup sweep.
func (s *Sweeper) Start() error {
	if err := s.tg.Add(); err != nil {
		return err
	}
	go s.threadedLoop()
	return nil
}

// Close signals the sweep loop to stop and waits for an in-flight sweep to
// finish before returning.
func (s *Sweeper) Close() error {
	return s.tg.Stop()
}

func (s *Sweeper) threadedLoop() {
	defer s.tg.Done()
	for {
		select {
		case <-s.tg.StopChan():
			return
		case <-time.After(Interval):
			if err := s.Sweep(); err != nil {
				s.log.Println("sweeper: sweep failed:", err)
			}
		}
	}
}

// Sweep performs one scan: it computes the set of filepaths referenced by
// any entry in any cell, then pages through the Assets table, deleting any
// row whose logical bundle name (its "name" stripped of the trailing
// "_N" chunk-index suffix) is not in that set.
func (s *Sweeper) Sweep() error {
	referenced := s.grid.ReferencedFilepaths()

	// orphaned caches the referenced-set lookup per logical bundle name so
	// it is computed once even though a bundle's chunks appear as several
	// distinct rows; every orphaned row is still deleted individually.
	orphaned := make(map[string]bool)
	pageToken := ""
	for {
		names, next, err := s.store.ScanKeys(blockstore.Assets, pageToken)
		if err != nil {
			return err
		}
		for _, name := range names {
			bundle := bundleNameOf(name)
			isOrphan, cached := orphaned[bundle]
			if !cached {
				_, ok := referenced[bundle]
				isOrphan = !ok
				orphaned[bundle] = isOrphan
			}
			if !isOrphan {
				continue
			}
			if err := s.store.DeleteKey(blockstore.Assets, name); err != nil {
				return err
			}
		}
		if next == "" {
			break
		}
		pageToken = next
	}
	return nil
}

// bundleNameOf strips a chunk key's trailing "_N" chunk-index suffix,
// returning the logical bundle name referenced by entry payloads.
func bundleNameOf(chunkName string) string {
	i := strings.LastIndexByte(chunkName, '_')
	if i < 0 {
		return chunkName
	}
	return chunkName[:i]
}
