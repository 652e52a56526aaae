package blockgrid

import "encoding/json"

// applyDelete removes, for each target, any asset field at the target's
// cell whose filepath matches, across every entry on that cell. Each
// target cell is edited under destructiveMu with an optimistic-concurrency
// retry: the cell is re-read, the edit computed, and the save attempted;
// if another write raced in between, the whole edit is recomputed against
// the fresh cell and retried.
func (bg *Blockgrid) applyDelete(targets []DeleteTarget) error {
	byIndex := make(map[Index][]string)
	for _, t := range targets {
		idx := CellIndexForPosition(t.Position.X, t.Position.Y, t.Position.Z)
		byIndex[idx] = append(byIndex[idx], t.Filepath)
	}

	bg.destructiveMu.Lock()
	defer bg.destructiveMu.Unlock()

	for idx, filepaths := range byIndex {
		if err := bg.deleteFilepathsFromCell(idx, filepaths); err != nil {
			return err
		}
	}
	return nil
}

func (bg *Blockgrid) deleteFilepathsFromCell(idx Index, filepaths []string) error {
	drop := make(map[string]struct{}, len(filepaths))
	for _, fp := range filepaths {
		drop[fp] = struct{}{}
	}

	for {
		bg.mu.RLock()
		cell, ok := bg.grid[idx]
		if !ok {
			bg.mu.RUnlock()
			return ErrCellNotFound
		}
		startVersion := cell.version
		snapshot := cell.Clone()
		bg.mu.RUnlock()

		newData := make([]Entry, len(snapshot.Data))
		anyChanged := false
		for i, entry := range snapshot.Data {
			rewritten, changed, err := stripFilepaths(entry.Data, drop)
			if err != nil {
				return err
			}
			if changed {
				entry.Data = rewritten
				entry.Updated = nowMillis()
				anyChanged = true
			}
			newData[i] = entry
		}

		bg.mu.Lock()
		cell, ok = bg.grid[idx]
		if !ok {
			bg.mu.Unlock()
			return ErrCellNotFound
		}
		if cell.version != startVersion {
			// Something else wrote this cell while we were computing the
			// edit; recompute against the fresh data.
			bg.mu.Unlock()
			continue
		}
		if !anyChanged {
			bg.mu.Unlock()
			return nil
		}
		cell.Data = newData
		cell.Updated = nowMillis()
		err := bg.saveCell(cell)
		bg.mu.Unlock()
		return err
	}
}

// stripFilepaths parses payload as an asset_id -> fields map and removes
// every asset whose "filepath" field is in drop, returning the
// re-serialized payload and whether anything changed.
func stripFilepaths(payload string, drop map[string]struct{}) (string, bool, error) {
	var assets map[string]map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &assets); err != nil {
		// Not an asset payload (e.g. a plain transaction entry); leave as is.
		return payload, false, nil
	}

	changed := false
	for assetID, fields := range assets {
		fp, _ := fields["filepath"].(string)
		if _, match := drop[fp]; match {
			delete(assets, assetID)
			changed = true
		}
	}
	if !changed {
		return payload, false, nil
	}

	enc, err := json.Marshal(assets)
	if err != nil {
		return "", false, err
	}
	return string(enc), true, nil
}
