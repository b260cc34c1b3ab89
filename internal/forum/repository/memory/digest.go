package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
)

type digestRepo struct{ db *DB }

func (r *digestRepo) Get(ctx context.Context, userID, forumID int64) (*models.DigestPreference, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	pref, ok := r.db.digests[pairKey{userID, forumID}]
	if !ok {
		return nil, fmt.Errorf("digest preference %d/%d: %w", userID, forumID, repository.ErrNotFound)
	}
	return &pref, nil
}

func (r *digestRepo) ListByUser(ctx context.Context, userID int64) ([]*models.DigestPreference, error) {
	return r.filter(func(p *models.DigestPreference) bool { return p.UserID == userID }), nil
}

func (r *digestRepo) ListByForums(ctx context.Context, forumIDs []int64) ([]*models.DigestPreference, error) {
	set := idSet(forumIDs)
	return r.filter(func(p *models.DigestPreference) bool {
		_, ok := set[p.ForumID]
		return ok
	}), nil
}

func (r *digestRepo) filter(match func(*models.DigestPreference) bool) []*models.DigestPreference {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.DigestPreference
	for _, pref := range r.db.digests {
		p := pref
		if match(&p) {
			out = append(out, &p)
		}
	}
	return out
}

func (r *digestRepo) Set(ctx context.Context, pref *models.DigestPreference) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.digests[pairKey{pref.UserID, pref.ForumID}] = *pref
	return nil
}

func (r *digestRepo) Delete(ctx context.Context, userID, forumID int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.digests, pairKey{userID, forumID})
	return nil
}

func (r *digestRepo) EnsureIndexes(ctx context.Context) error { return noIndexes(ctx) }

type queueRepo struct{ db *DB }

func (r *queueRepo) Insert(ctx context.Context, entries []*models.DigestQueueEntry) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, entry := range entries {
		r.db.queue = append(r.db.queue, *entry)
	}
	return nil
}

func (r *queueRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	return r.remove(func(e *models.DigestQueueEntry) bool { return e.TimeModified.Before(before) }), nil
}

func (r *queueRepo) ListBefore(ctx context.Context, before time.Time) ([]*models.DigestQueueEntry, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.DigestQueueEntry
	for _, entry := range r.db.queue {
		if entry.TimeModified.Before(before) {
			e := entry
			out = append(out, &e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		if out[i].DiscussionID != out[j].DiscussionID {
			return out[i].DiscussionID < out[j].DiscussionID
		}
		return out[i].TimeModified.Before(out[j].TimeModified)
	})
	return out, nil
}

func (r *queueRepo) DeleteForUser(ctx context.Context, userID int64, before time.Time) (int64, error) {
	return r.remove(func(e *models.DigestQueueEntry) bool {
		return e.UserID == userID && e.TimeModified.Before(before)
	}), nil
}

func (r *queueRepo) DeleteByDiscussion(ctx context.Context, discussionID int64) error {
	r.remove(func(e *models.DigestQueueEntry) bool { return e.DiscussionID == discussionID })
	return nil
}

func (r *queueRepo) remove(match func(*models.DigestQueueEntry) bool) int64 {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	kept := r.db.queue[:0]
	var n int64
	for _, entry := range r.db.queue {
		e := entry
		if match(&e) {
			n++
			continue
		}
		kept = append(kept, entry)
	}
	r.db.queue = kept
	return n
}

func (r *queueRepo) EnsureIndexes(ctx context.Context) error { return noIndexes(ctx) }

type stateRepo struct{ db *DB }

func (r *stateRepo) GetTime(ctx context.Context, key string) (time.Time, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	return r.db.state[key], nil
}

func (r *stateRepo) SetTime(ctx context.Context, key string, value time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.state[key] = value
	return nil
}

type sequenceRepo struct{ db *DB }

func (r *sequenceRepo) Next(ctx context.Context, name string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.sequences[name]++
	return r.db.sequences[name], nil
}
