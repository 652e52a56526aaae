package blockgrid

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io/ioutil"
	"testing"
)

func TestSubmitUnsignedGroupsByCellIndexAndSigns(t *testing.T) {
	bg, _, owner := newSignedOwner(t)
	// A fresh grid holds only genesis; mining it materializes (1,0,0) so the
	// x=600 asset has a cell to land on.
	if err := bg.SignBlock(Genesis, mine(t, bg, Genesis, owner), owner.String()); err != nil {
		t.Fatal(err)
	}

	sub := UnsignedSubmission{
		Assets: map[string]AssetSubmission{
			"asset-1": {
				Position: WorldPosition{X: 10, Y: 10, Z: 10},
				Fields:   map[string]interface{}{"filepath": "bundle-a"},
			},
			"asset-2": {
				Position: WorldPosition{X: 600, Y: 0, Z: 0},
				Fields:   map[string]interface{}{"filepath": "bundle-b"},
			},
		},
	}

	touched, err := bg.SubmitUnsigned(sub, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(touched) != 2 {
		t.Fatalf("expected 2 touched cells, got %d", len(touched))
	}

	originCell, ok := bg.Cell(Genesis)
	if !ok || len(originCell.Data) != 1 {
		t.Fatalf("expected one entry recorded on genesis for the world-origin asset")
	}
	if originCell.Data[0].Approved {
		t.Fatal("a non-moderator submission must record Approved=false")
	}

	var payload map[string]map[string]interface{}
	if err := json.Unmarshal([]byte(originCell.Data[0].Data), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["asset-1"]["filepath"] != "bundle-a" {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	otherCell, ok := bg.Cell(Index{1, 0, 0})
	if !ok || len(otherCell.Data) != 1 {
		t.Fatalf("expected the x=600 asset to land in cell (1,0,0)")
	}
}

func TestSubmitUnsignedModeratorEntryIsApproved(t *testing.T) {
	bg, _ := newTestBlockgrid(t)
	sub := UnsignedSubmission{
		Assets: map[string]AssetSubmission{
			"asset-1": {Fields: map[string]interface{}{"filepath": "f"}},
		},
	}
	if _, err := bg.SubmitUnsigned(sub, nil, true); err != nil {
		t.Fatal(err)
	}
	cell, _ := bg.Cell(Genesis)
	if !cell.Data[0].Approved {
		t.Fatal("a moderator submission must record Approved=true")
	}
}

func TestSubmitUnsignedStoresBundleIdempotently(t *testing.T) {
	bg, _ := newTestBlockgrid(t)
	bundle := []byte("hello bundle")

	if err := bg.storeBundle(Bundle{Name: "greet", Data: bundle}); err != nil {
		t.Fatal(err)
	}
	got, found, err := bg.readBundle("greet", -1)
	if err != nil || !found {
		t.Fatalf("expected bundle to be stored: found=%v err=%v", found, err)
	}
	if !bytes.Equal(got, bundle) {
		t.Fatalf("bundle round-trip mismatch: got %q want %q", got, bundle)
	}

	// Re-storing under the same name must be a no-op (idempotent, content
	// already present under chunk 0).
	if err := bg.storeBundle(Bundle{Name: "greet", Data: []byte("different content")}); err != nil {
		t.Fatal(err)
	}
	got, _, _ = bg.readBundle("greet", -1)
	if !bytes.Equal(got, bundle) {
		t.Fatal("storeBundle must not overwrite an already-present bundle")
	}
}

func TestGetCellDataFiltersUnapprovedForNonModerators(t *testing.T) {
	bg, _ := newTestBlockgrid(t)
	if _, err := bg.NewTransaction(Genesis, `{"a":1}`, "sig-unapproved", 1, false); err != nil {
		t.Fatal(err)
	}
	if _, err := bg.NewTransaction(Genesis, `{"b":2}`, "sig-approved", 2, true); err != nil {
		t.Fatal(err)
	}

	// P-moderation: non-moderators never see unapproved entries.
	visible, err := bg.GetCellData(Genesis, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || !visible[0].Approved {
		t.Fatalf("expected exactly the approved entry visible to a non-moderator, got %+v", visible)
	}

	all, err := bg.GetCellData(Genesis, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected a moderator to see both entries, got %d", len(all))
	}
}

// TestBundleRoundtripThroughBundlesZip covers P-bundle-roundtrip via the
// /grid/index/bundles read path: uploading a bundle referenced by an
// approved entry yields a ZIP whose entry is byte-identical.
func TestBundleRoundtripThroughBundlesZip(t *testing.T) {
	bg, _ := newTestBlockgrid(t)

	bundle := make([]byte, 900000)
	for i := range bundle {
		bundle[i] = byte(i % 251)
	}
	if err := bg.storeBundle(Bundle{Name: "big", Data: bundle}); err != nil {
		t.Fatal(err)
	}

	payload, err := json.Marshal(map[string]map[string]interface{}{
		"asset-1": {"filepath": "big"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bg.NewTransaction(Genesis, string(payload), "sig", 1, true); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := bg.GetCellBundles(Genesis, -1, true, &buf); err != nil {
		t.Fatal(err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "big" {
		t.Fatalf("expected a single zip entry named 'big', got %+v", zr.File)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, err := ioutil.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, bundle) {
		t.Fatal("zip entry content did not round-trip the uploaded bundle")
	}
}
