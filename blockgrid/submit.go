package blockgrid

import (
	"encoding/base64"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/NebulousLabs/errors"
	"github.com/kevin-bruhwiler/Kowloon/blockstore"
	"github.com/kevin-bruhwiler/Kowloon/signer"
)

// WorldPosition is a submitter-native-unit 3-D coordinate, floored into a
// cell Index by CellIndexForPosition.
type WorldPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// AssetSubmission is one asset's fields, keyed by an opaque asset id in
// UnsignedSubmission.Assets. Fields typically carries a "filepath" entry
// tying the asset back to an uploaded bundle.
type AssetSubmission struct {
	Position WorldPosition          `json:"position"`
	Fields   map[string]interface{} `json:"fields"`
}

// DeleteTarget names one world position and a filepath tag; any asset
// field at that cell whose filepath matches is stripped.
type DeleteTarget struct {
	Position WorldPosition `json:"position"`
	Filepath string        `json:"filepath"`
}

// UnsignedSubmission is the JSON part of a POST /transactions/new/unsigned
// multipart body.
type UnsignedSubmission struct {
	Assets  map[string]AssetSubmission `json:"assets"`
	Delete  []DeleteTarget             `json:"delete,omitempty"`
}

// Bundle is one attached binary part of an unsigned submission, named by
// the filepath its assets reference.
type Bundle struct {
	Name string
	Data []byte
}

// SubmitUnsigned runs the full unsigned-transaction pipeline: it stores any
// attached bundles (idempotently), applies a moderator delete directive if
// present and the caller is a moderator, then groups the submission's asset
// entries by cell index, signs one payload per cell with the server's key,
// and records it as an entry with approved set to the caller's moderator
// status. It returns the indices of every cell touched.
func (bg *Blockgrid) SubmitUnsigned(sub UnsignedSubmission, bundles []Bundle, moderator bool) ([]Index, error) {
	for _, b := range bundles {
		if err := bg.storeBundle(b); err != nil {
			return nil, err
		}
	}

	if moderator && len(sub.Delete) > 0 {
		if err := bg.applyDelete(sub.Delete); err != nil {
			return nil, err
		}
	}

	grouped := make(map[Index]map[string]map[string]interface{})
	for assetID, asset := range sub.Assets {
		idx := CellIndexForPosition(asset.Position.X, asset.Position.Y, asset.Position.Z)
		if grouped[idx] == nil {
			grouped[idx] = make(map[string]map[string]interface{})
		}
		grouped[idx][assetID] = asset.Fields
	}

	touched := make([]Index, 0, len(grouped))
	for idx, payload := range grouped {
		enc, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.AddContext(err, "could not encode asset payload")
		}
		sig, err := signer.Sign(bg.serverKey, enc)
		if err != nil {
			return nil, errors.AddContext(err, "could not sign asset payload")
		}
		if _, err := bg.NewTransaction(idx, string(enc), base64.StdEncoding.EncodeToString(sig), nowMillis(), moderator); err != nil {
			return nil, err
		}
		touched = append(touched, idx)
	}

	sort.Slice(touched, func(i, j int) bool {
		if touched[i][0] != touched[j][0] {
			return touched[i][0] < touched[j][0]
		}
		if touched[i][1] != touched[j][1] {
			return touched[i][1] < touched[j][1]
		}
		return touched[i][2] < touched[j][2]
	})
	return touched, nil
}

// storeBundle splits b into MaxChunkBytes chunks and writes them in order
// under b.Name, skipping entirely if the first chunk is already present.
func (bg *Blockgrid) storeBundle(b Bundle) error {
	probe, err := bg.store.QueryChunks(blockstore.Assets, bundleChunkName(b.Name, 0), -1)
	if err != nil {
		return err
	}
	if len(probe) > 0 {
		return nil
	}

	now := nowMillis()
	ix := 0
	for start := 0; start < len(b.Data); start += blockstore.MaxChunkBytes {
		end := start + blockstore.MaxChunkBytes
		if end > len(b.Data) {
			end = len(b.Data)
		}
		key := blockstore.Key{Name: bundleChunkName(b.Name, ix), Time: now}
		if err := bg.store.PutChunk(blockstore.Assets, key, b.Data[start:end]); err != nil {
			return err
		}
		time.Sleep(putPaceDelay)
		ix++
	}
	return nil
}

func bundleChunkName(name string, ix int) string {
	return name + "_" + strconv.Itoa(ix)
}
