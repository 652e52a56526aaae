package reconcile

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/kevin-bruhwiler/Kowloon/blockgrid"
	"github.com/kevin-bruhwiler/Kowloon/blockstore"
	"github.com/kevin-bruhwiler/Kowloon/signer"
)

func discardLogger() *log.Logger {
	return log.New(ioutil.Discard, "", 0)
}

func TestFetchGrid(t *testing.T) {
	owner := "alice"
	proof := uint64(7)
	wire := gridResponse{
		Grid: map[string]wireCell{
			"0:0:0": {
				Index: [3]int64{0, 0, 0},
				Owner: owner,
				Proof: &proof,
				Data:  []blockgrid.Entry{},
			},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wire)
	}))
	defer srv.Close()

	r := New(discardLogger())
	grid, err := r.FetchGrid(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	cell, ok := grid[blockgrid.Index{0, 0, 0}]
	if !ok {
		t.Fatal("expected genesis cell to be present in the fetched grid")
	}
	if cell.Owner != owner || cell.Proof == nil || *cell.Proof != proof {
		t.Fatalf("fetched cell did not round-trip correctly: %+v", cell)
	}
}

func TestFetchGridUnreachable(t *testing.T) {
	r := New(discardLogger())
	if _, err := r.FetchGrid("http://127.0.0.1:1"); err == nil {
		t.Fatal("expected an error fetching from an unreachable peer")
	}
}

func TestFetchGridNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(discardLogger())
	if _, err := r.FetchGrid(srv.URL); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestShuffledIsPermutation(t *testing.T) {
	nodes := []string{"a", "b", "c", "d", "e"}
	got := shuffled(nodes)
	if len(got) != len(nodes) {
		t.Fatalf("expected %d nodes, got %d", len(nodes), len(got))
	}
	sort.Strings(got)
	sortedNodes := append([]string(nil), nodes...)
	sort.Strings(sortedNodes)
	for i := range got {
		if got[i] != sortedNodes[i] {
			t.Fatalf("shuffled dropped or duplicated a node: got %v, want a permutation of %v", got, nodes)
		}
	}
}

func TestResolveConflictsSkipsUnreachablePeers(t *testing.T) {
	priv, _, err := signer.GenerateKeys()
	if err != nil {
		t.Fatal(err)
	}
	bg, err := blockgrid.New(blockstore.NewMemStore(), priv, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	bg.RegisterNode("http://127.0.0.1:1")

	r := New(discardLogger())
	if replaced := r.ResolveConflicts(bg); replaced {
		t.Fatal("expected the local chain to remain authoritative when every peer is unreachable")
	}
}
