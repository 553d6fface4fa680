// Package block stores the timed access blocks placed on a video after
// repeated inattention. A record outlives the viewing session and expires
// on its own.
package block

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/SoarinFerret/FocusWarden/internal/state"
)

const keyPrefix = "block/"

// Record is a block on one video. EndTime is epoch milliseconds.
type Record struct {
	VideoID string `json:"videoId"`
	EndTime int64  `json:"endTime"`
	Reason  string `json:"reason"`
}

// NewRecord creates a record ending d after now.
func NewRecord(videoID, reason string, now time.Time, d time.Duration) Record {
	return Record{
		VideoID: videoID,
		EndTime: now.Add(d).UnixMilli(),
		Reason:  reason,
	}
}

func (r Record) Ends() time.Time {
	return time.UnixMilli(r.EndTime)
}

// Expired reports whether now is at or past the end time.
func (r Record) Expired(now time.Time) bool {
	return now.UnixMilli() >= r.EndTime
}

// Remaining is the time left on the block, never negative.
func (r Record) Remaining(now time.Time) time.Duration {
	left := time.Duration(r.EndTime-now.UnixMilli()) * time.Millisecond
	if left < 0 {
		return 0
	}
	return left
}

// Registry reads and writes block records in a store, one per video.
type Registry struct {
	store state.Store
}

func NewRegistry(store state.Store) *Registry {
	return &Registry{store: store}
}

func key(videoID string) string {
	return keyPrefix + videoID
}

// Load returns the record for videoID, or state.ErrNotFound.
func (r *Registry) Load(ctx context.Context, videoID string) (Record, error) {
	data, err := r.store.Get(ctx, key(videoID))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode block for %s: %w", videoID, err)
	}
	if rec.VideoID == "" {
		rec.VideoID = videoID
	}
	return rec, nil
}

// Save writes rec, replacing any block already on the video.
func (r *Registry) Save(ctx context.Context, rec Record) error {
	if rec.VideoID == "" {
		return fmt.Errorf("block record has no video id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, key(rec.VideoID), data)
}

func (r *Registry) Delete(ctx context.Context, videoID string) error {
	return r.store.Delete(ctx, key(videoID))
}

// List returns every stored record, expired ones included. Records that
// cannot be decoded are logged and skipped.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	keys, err := r.store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	records := []Record{}
	for _, k := range keys {
		rec, err := r.Load(ctx, strings.TrimPrefix(k, keyPrefix))
		if err != nil {
			if !errors.Is(err, state.ErrNotFound) {
				log.Printf("Skipping block %s: %v", k, err)
			}
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Sweep deletes expired records and returns the ids of the videos that
// were unblocked.
func (r *Registry) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	records, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	removed := []string{}
	for _, rec := range records {
		if !rec.Expired(now) {
			continue
		}
		if err := r.Delete(ctx, rec.VideoID); err != nil {
			return removed, fmt.Errorf("failed to delete expired block %s: %w", rec.VideoID, err)
		}
		removed = append(removed, rec.VideoID)
	}
	return removed, nil
}
