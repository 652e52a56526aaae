// Package reconcile implements peer grid synchronization: fetching a peer's
// grid over HTTP and merging it against the local grid using the
// blockgrid package's validation and merge rules.
package reconcile

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/NebulousLabs/fastrand"
	"github.com/kevin-bruhwiler/Kowloon/blockgrid"
)

// requestTimeout bounds every peer fetch; a slow or dead peer must not
// stall the rest of reconciliation.
const requestTimeout = 10 * time.Second

// gridResponse mirrors the wire shape of GET /grid: a map from "x:y:z"
// strings to cells.
type gridResponse struct {
	Grid map[string]wireCell `json:"grid"`
}

type wireCell struct {
	Index         [3]int64         `json:"index"`
	Timestamp     int64             `json:"timestamp"`
	Updated       int64             `json:"updated"`
	PreviousIndex [3]int64          `json:"previous_index"`
	PreviousHash  string            `json:"previous_hash"`
	Owner         string            `json:"owner"`
	Proof         *uint64           `json:"proof"`
	Data          []blockgrid.Entry `json:"data"`
}

// Resolver owns the HTTP client used to fetch peer grids.
type Resolver struct {
	client *http.Client
	log    *log.Logger
}

// New returns a Resolver with a bounded per-request timeout.
func New(logger *log.Logger) *Resolver {
	return &Resolver{
		client: &http.Client{Timeout: requestTimeout},
		log:    logger,
	}
}

// FetchGrid retrieves and decodes the grid a peer serves at GET /grid. A
// non-2xx response or an unparseable body is reported as an error; callers
// reconciling multiple peers should skip such peers rather than abort.
func (r *Resolver) FetchGrid(peerBaseURL string) (blockgrid.Grid, error) {
	resp, err := r.client.Get(peerBaseURL + "/grid")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errPeerUnreachable(peerBaseURL, resp.StatusCode)
	}

	var wire gridResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, err
	}

	grid := make(blockgrid.Grid, len(wire.Grid))
	for _, cell := range wire.Grid {
		grid[cell.Index] = &blockgrid.Cell{
			Index:         cell.Index,
			Timestamp:     cell.Timestamp,
			Updated:       cell.Updated,
			PreviousIndex: cell.PreviousIndex,
			PreviousHash:  cell.PreviousHash,
			Owner:         cell.Owner,
			Proof:         cell.Proof,
			Data:          cell.Data,
		}
	}
	return grid, nil
}

// ResolveConflicts fetches every registered peer's grid, compares it
// against bg's current grid, and merges or replaces as appropriate. It
// returns true iff the local grid was replaced wholesale by a strictly
// longer, valid peer grid. Peers that are unreachable or return an invalid
// grid are logged and skipped; they never abort reconciliation for the
// remaining peers.
func (r *Resolver) ResolveConflicts(bg *blockgrid.Blockgrid) bool {
	replaced := false
	for _, peer := range shuffled(bg.Nodes()) {
		peerGrid, err := r.FetchGrid(peer)
		if err != nil {
			if r.log != nil {
				r.log.Printf("reconcile: skipping unreachable peer %s: %v", peer, err)
			}
			continue
		}
		if !blockgrid.ValidGrid(peerGrid) {
			if r.log != nil {
				r.log.Printf("reconcile: skipping invalid grid from peer %s", peer)
			}
			continue
		}

		local := bg.Snapshot()
		if len(peerGrid) > len(local) {
			if err := bg.ReplaceGridAndPersist(blockgrid.UpdateGrid(peerGrid, local)); err != nil && r.log != nil {
				r.log.Printf("reconcile: could not persist merged grid from peer %s: %v", peer, err)
			}
			replaced = true
			continue
		}
		if err := bg.ReplaceGridAndPersist(blockgrid.UpdateGrid(local, peerGrid)); err != nil && r.log != nil {
			r.log.Printf("reconcile: could not persist merged grid from peer %s: %v", peer, err)
		}
	}
	return replaced
}

// shuffled returns a random permutation of nodes so that, across repeated
// reconciliation rounds, no single peer is consistently contacted first
// (and so favored whenever two peers offer equally long grids).
func shuffled(nodes []string) []string {
	perm := fastrand.Perm(len(nodes))
	out := make([]string, len(nodes))
	for i, p := range perm {
		out[i] = nodes[p]
	}
	return out
}

type peerUnreachableError struct {
	peer   string
	status int
}

func (e *peerUnreachableError) Error() string {
	return "peer unreachable: " + e.peer + " (status " + strconv.Itoa(e.status) + ")"
}

func errPeerUnreachable(peer string, status int) error {
	return &peerUnreachableError{peer: peer, status: status}
}
