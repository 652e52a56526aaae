package api

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/kevin-bruhwiler/Kowloon/blockgrid"
	"github.com/kevin-bruhwiler/Kowloon/pow"
)

const (
	defaultRateLimit  = 60
	defaultRateWindow = time.Minute
)

// maxMultipartMemory bounds how much of a /transactions/new/unsigned upload
// ParseMultipartForm buffers in memory before spilling to temp files.
const maxMultipartMemory = 32 << 20

// indexKey formats idx as the "x:y:z" wire key spec.md §6 specifies for
// grid maps.
func indexKey(idx blockgrid.Index) string {
	return fmt.Sprintf("%d:%d:%d", idx[0], idx[1], idx[2])
}

// parseIndexKey parses a "x:y:z" wire key back into an Index.
func parseIndexKey(s string) (blockgrid.Index, error) {
	var idx blockgrid.Index
	n, err := fmt.Sscanf(s, "%d:%d:%d", &idx[0], &idx[1], &idx[2])
	if err != nil || n != 3 {
		return blockgrid.Index{}, fmt.Errorf("malformed grid index key: %s", s)
	}
	return idx, nil
}

// wireCell is the JSON shape of a cell as it crosses the wire, both as a
// /grid response value and as an entry in a /grid/compare, /grid/replace,
// or /grid/update request body.
type wireCell struct {
	Index         blockgrid.Index   `json:"index"`
	Timestamp     int64             `json:"timestamp"`
	Updated       int64             `json:"updated"`
	PreviousIndex blockgrid.Index   `json:"previous_index"`
	PreviousHash  string            `json:"previous_hash"`
	Owner         string            `json:"owner"`
	Proof         *uint64           `json:"proof"`
	Data          []blockgrid.Entry `json:"data"`
	DataRoot      string            `json:"data_root"`
}

func cellToWire(c *blockgrid.Cell) wireCell {
	return wireCell{
		Index:         c.Index,
		Timestamp:     c.Timestamp,
		Updated:       c.Updated,
		PreviousIndex: c.PreviousIndex,
		PreviousHash:  c.PreviousHash,
		Owner:         c.Owner,
		Proof:         c.Proof,
		Data:          c.Data,
		DataRoot:      c.DataMerkleRoot(),
	}
}

// wireToGrid rebuilds a Grid from its wire map. The "x:y:z" map key is
// nominally redundant with the cell's own Index field; where a peer's key
// is malformed, the cell's own Index is used instead so a single bad key
// cannot drop an otherwise-valid cell from the merge.
func wireToGrid(wire map[string]wireCell) blockgrid.Grid {
	grid := make(blockgrid.Grid, len(wire))
	for key, wc := range wire {
		idx, err := parseIndexKey(key)
		if err != nil {
			idx = wc.Index
		}
		grid[idx] = &blockgrid.Cell{
			Index:         wc.Index,
			Timestamp:     wc.Timestamp,
			Updated:       wc.Updated,
			PreviousIndex: wc.PreviousIndex,
			PreviousHash:  wc.PreviousHash,
			Owner:         wc.Owner,
			Proof:         wc.Proof,
			Data:          wc.Data,
		}
	}
	return grid
}

func gridToWire(grid blockgrid.Grid) map[string]wireCell {
	wire := make(map[string]wireCell, len(grid))
	for idx, cell := range grid {
		wire[indexKey(idx)] = cellToWire(cell)
	}
	return wire
}

// rootHandler is the liveness check: GET / always answers 200 empty.
func (srv *Server) rootHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeSuccess(w)
}

// mineRequest is the body of GET /mine. Signature, confusingly, carries the
// miner's public key rather than a cryptographic signature — a naming
// quirk inherited unchanged from the originating application, where the
// same field does double duty as "the caller's claimed owner key".
type mineRequest struct {
	Index     *blockgrid.Index `json:"index"`
	Signature *string          `json:"signature"`
}

func (srv *Server) mineHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req mineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil || req.Signature == nil {
		writeError(w, Error{blockgrid.ErrMissingValues.Error()}, http.StatusBadRequest)
		return
	}

	cell, ok := srv.bg.Cell(*req.Index)
	if !ok {
		writeError(w, Error{blockgrid.ErrPreviousNotMined.Error()}, http.StatusBadRequest)
		return
	}
	if cell.Mined() {
		writeError(w, Error{blockgrid.ErrAlreadyMined.Error()}, http.StatusBadRequest)
		return
	}

	candidate := cell.Clone()
	candidate.Owner = *req.Signature
	challenge := candidate.HashWithoutProof()
	proof := pow.Mine(challenge, pow.Index(*req.Index))

	if err := srv.bg.SignBlock(*req.Index, proof, *req.Signature); err != nil {
		writeError(w, Error{err.Error()}, http.StatusBadRequest)
		return
	}

	mined, _ := srv.bg.Cell(*req.Index)
	writeJSON(w, cellToWire(mined))
}

type transactionRequest struct {
	Index     *blockgrid.Index `json:"index"`
	Data      *string          `json:"data"`
	Signature *string          `json:"signature"`
}

func (srv *Server) transactionsNewHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		req.Index == nil || req.Data == nil || req.Signature == nil {
		writeError(w, Error{blockgrid.ErrMissingValues.Error()}, http.StatusBadRequest)
		return
	}

	idx, err := srv.bg.NewTransaction(*req.Index, *req.Data, *req.Signature, nowMillis(), true)
	if err != nil {
		writeError(w, Error{err.Error()}, http.StatusBadRequest)
		return
	}

	writeJSON(w, struct {
		Message string `json:"message"`
	}{fmt.Sprintf("Transaction will be added to cell %s", indexKey(idx))})
}

// unsignedEnvelope peeks at the ticket field of the multipart submission's
// JSON part without committing to the rest of its shape.
type unsignedEnvelope struct {
	Ticket string `json:"ticket"`
}

func (srv *Server) transactionsNewUnsignedHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, Error{"could not parse multipart submission"}, http.StatusBadRequest)
		return
	}

	raw := r.FormValue("submission")
	if raw == "" {
		writeError(w, Error{blockgrid.ErrMissingValues.Error()}, http.StatusBadRequest)
		return
	}

	var envelope unsignedEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		writeError(w, Error{"malformed submission JSON"}, http.StatusBadRequest)
		return
	}
	var sub blockgrid.UnsignedSubmission
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		writeError(w, Error{"malformed submission JSON"}, http.StatusBadRequest)
		return
	}

	var bundles []blockgrid.Bundle
	if r.MultipartForm != nil {
		for name, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				f, err := fh.Open()
				if err != nil {
					writeError(w, Error{"could not read attached bundle"}, http.StatusBadRequest)
					return
				}
				data, err := ioutil.ReadAll(f)
				f.Close()
				if err != nil {
					writeError(w, Error{"could not read attached bundle"}, http.StatusBadRequest)
					return
				}
				bundles = append(bundles, blockgrid.Bundle{Name: name, Data: data})
			}
		}
	}

	moderator := srv.oracle.IsModerator(envelope.Ticket)
	touched, err := srv.bg.SubmitUnsigned(sub, bundles, moderator)
	if err != nil {
		writeError(w, Error{err.Error()}, http.StatusBadRequest)
		return
	}

	keys := make([]string, len(touched))
	for i, idx := range touched {
		keys[i] = indexKey(idx)
	}
	writeJSON(w, struct {
		Message string   `json:"message"`
		Cells   []string `json:"cells"`
	}{"submission recorded", keys})
}

type indexQuery struct {
	Index  *blockgrid.Index `json:"index"`
	Time   *int64           `json:"time"`
	Ticket *string          `json:"ticket"`
}

func decodeIndexQuery(r *http.Request) (idx blockgrid.Index, since int64, ticket string, err error) {
	var q indexQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil ||
		q.Index == nil || q.Time == nil || q.Ticket == nil {
		return blockgrid.Index{}, 0, "", blockgrid.ErrMissingValues
	}
	return *q.Index, *q.Time, *q.Ticket, nil
}

func (srv *Server) gridIndexHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	idx, since, ticket, err := decodeIndexQuery(r)
	if err != nil {
		writeError(w, Error{err.Error()}, http.StatusBadRequest)
		return
	}
	moderator := srv.oracle.IsModerator(ticket)

	entries, err := srv.bg.GetCellData(idx, since, moderator)
	if err != nil {
		writeError(w, Error{err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, struct {
		Block []blockgrid.Entry `json:"block"`
	}{entries})
}

func (srv *Server) gridIndexBundlesHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	idx, since, ticket, err := decodeIndexQuery(r)
	if err != nil {
		writeError(w, Error{err.Error()}, http.StatusBadRequest)
		return
	}
	moderator := srv.oracle.IsModerator(ticket)

	w.Header().Set("Content-Type", "application/octet-stream")
	if err := srv.bg.GetCellBundles(idx, since, moderator, w); err != nil {
		srv.log.Println("api: grid/index/bundles failed:", err)
	}
}

func (srv *Server) gridHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snapshot := srv.bg.Snapshot()
	writeJSON(w, struct {
		Grid   map[string]wireCell `json:"grid"`
		Length int                 `json:"length"`
	}{gridToWire(snapshot), len(snapshot)})
}

type gridBody struct {
	Grid map[string]wireCell `json:"grid"`
}

func (srv *Server) gridCompareHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body gridBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, Error{blockgrid.ErrMissingValues.Error()}, http.StatusBadRequest)
		return
	}
	other := wireToGrid(body.Grid)
	writeJSON(w, struct {
		Auth bool `json:"auth"`
	}{srv.bg.CompareGrids(other)})
}

func (srv *Server) gridReplaceHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body gridBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, Error{blockgrid.ErrMissingValues.Error()}, http.StatusBadRequest)
		return
	}
	grid := wireToGrid(body.Grid)
	if err := srv.bg.ReplaceGridAndPersist(grid); err != nil {
		writeError(w, Error{err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Message string `json:"message"`
	}{"grid has been replaced"})
}

type updateBody struct {
	ShorterGrid map[string]wireCell `json:"shorter_grid"`
	LongerGrid  map[string]wireCell `json:"longer_grid"`
}

func (srv *Server) gridUpdateHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body updateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, Error{blockgrid.ErrMissingValues.Error()}, http.StatusBadRequest)
		return
	}
	shorter := wireToGrid(body.ShorterGrid)
	longer := wireToGrid(body.LongerGrid)
	merged := blockgrid.UpdateGrid(longer, shorter)
	writeJSON(w, struct {
		Grid map[string]wireCell `json:"grid"`
	}{gridToWire(merged)})
}

type nodesRequest struct {
	Nodes []string `json:"nodes"`
}

func (srv *Server) nodesRegisterHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req nodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Nodes == nil {
		writeError(w, Error{"please supply a valid list of nodes"}, http.StatusBadRequest)
		return
	}
	for _, n := range req.Nodes {
		srv.bg.RegisterNode(n)
	}
	writeJSON(w, struct {
		Message    string   `json:"message"`
		TotalNodes []string `json:"total_nodes"`
	}{"new nodes have been added", srv.bg.Nodes()})
}

func (srv *Server) nodesResolveHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	replaced := srv.resolver.ResolveConflicts(srv.bg)
	snapshot := srv.bg.Snapshot()
	message := "Our chain is authoritative"
	if replaced {
		message = "Our chain was replaced"
	}
	writeJSON(w, struct {
		Message string              `json:"message"`
		Grid    map[string]wireCell `json:"grid"`
	}{message, gridToWire(snapshot)})
}

func nowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
