// Package archive exports purged root sessions to blob storage so expired
// records stay inspectable after they leave the database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"sessioncore/internal/blob"
	"sessioncore/pkg/domain"
)

// Exporter couples a session store's expiry purge with a blob archive: every
// purged record is written as a JSON snapshot before the purge result is
// returned.
type Exporter struct {
	store domain.SessionStore
	blobs blob.Store
}

// NewExporter builds an exporter over the given store and blob backend.
func NewExporter(store domain.SessionStore, blobs blob.Store) *Exporter {
	return &Exporter{store: store, blobs: blobs}
}

// PurgeAndArchive removes every session expired at or before now and archives
// each removed snapshot under sessions/<realm>/<id>.json. It returns the keys
// written. Archiving is best effort per record: one failed write aborts with
// the error, records already archived stay archived.
func (e *Exporter) PurgeAndArchive(ctx context.Context, now int64) ([]string, error) {
	removed, err := e.store.PurgeExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("purge expired: %w", err)
	}
	keys := make([]string, 0, len(removed))
	for _, snap := range removed {
		key := Key(snap)
		payload, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return keys, fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
		}
		if _, err := e.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType: "application/json",
			Metadata: map[string]string{
				"realm":   realmOf(snap),
				"version": strconv.Itoa(snap.Version),
			},
		}); err != nil {
			return keys, fmt.Errorf("archive %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Key derives the archive key for a purged snapshot. Sessions without a realm
// are filed under "unscoped".
func Key(snap domain.RootSessionSnapshot) string {
	return fmt.Sprintf("sessions/%s/%s.json", realmOf(snap), snap.ID)
}

func realmOf(snap domain.RootSessionSnapshot) string {
	realm := snap.RealmID
	if snap.Metadata != nil {
		realm = snap.Metadata.RealmID
	}
	if realm == "" {
		realm = "unscoped"
	}
	return realm
}
