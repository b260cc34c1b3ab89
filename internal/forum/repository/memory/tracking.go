package memory

import (
	"context"
	"time"

	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
)

type readRepo struct{ db *DB }

func (r *readRepo) Exists(ctx context.Context, userID, postID int64) (bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	_, ok := r.db.reads[pairKey{userID, postID}]
	return ok, nil
}

func (r *readRepo) ExistingPostIDs(ctx context.Context, userID int64, postIDs []int64) ([]int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []int64
	for _, id := range postIDs {
		if _, ok := r.db.reads[pairKey{userID, id}]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *readRepo) InsertIfAbsent(ctx context.Context, records []*models.ReadRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, rec := range records {
		key := pairKey{rec.UserID, rec.PostID}
		if _, ok := r.db.reads[key]; ok {
			continue
		}
		r.db.reads[key] = *rec
	}
	return nil
}

func (r *readRepo) TouchLastRead(ctx context.Context, userID int64, postIDs []int64, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, id := range postIDs {
		key := pairKey{userID, id}
		rec, ok := r.db.reads[key]
		if !ok {
			continue
		}
		rec.LastRead = at
		r.db.reads[key] = rec
	}
	return nil
}

func (r *readRepo) OldestTrackedModified(ctx context.Context) (time.Time, bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var oldest time.Time
	found := false
	for key := range r.db.reads {
		p, ok := r.db.posts[key.b]
		if !ok {
			continue
		}
		if !found || p.Modified.Before(oldest) {
			oldest = p.Modified
			found = true
		}
	}
	return oldest, found, nil
}

func (r *readRepo) Delete(ctx context.Context, filter repository.ReadFilter) (int64, error) {
	if filter.Empty() {
		return 0, repository.ErrEmptyFilter
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for key, rec := range r.db.reads {
		if filter.UserID >= 0 && rec.UserID != filter.UserID {
			continue
		}
		if filter.PostID >= 0 && rec.PostID != filter.PostID {
			continue
		}
		if filter.DiscussionID >= 0 && rec.DiscussionID != filter.DiscussionID {
			continue
		}
		if filter.ForumID >= 0 && rec.ForumID != filter.ForumID {
			continue
		}
		delete(r.db.reads, key)
		n++
	}
	return n, nil
}

func (r *readRepo) DeleteByPostIDs(ctx context.Context, postIDs []int64) (int64, error) {
	set := idSet(postIDs)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for key := range r.db.reads {
		if _, ok := set[key.b]; ok {
			delete(r.db.reads, key)
			n++
		}
	}
	return n, nil
}

func (r *readRepo) EnsureIndexes(ctx context.Context) error { return noIndexes(ctx) }

type trackPrefRepo struct{ db *DB }

func (r *trackPrefRepo) Exists(ctx context.Context, userID, forumID int64) (bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	_, ok := r.db.trackPrefs[pairKey{userID, forumID}]
	return ok, nil
}

func (r *trackPrefRepo) Insert(ctx context.Context, userID, forumID int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.trackPrefs[pairKey{userID, forumID}] = struct{}{}
	return nil
}

func (r *trackPrefRepo) Delete(ctx context.Context, userID, forumID int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.trackPrefs, pairKey{userID, forumID})
	return nil
}

func (r *trackPrefRepo) ListForumIDs(ctx context.Context, userID int64) ([]int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []int64
	for key := range r.db.trackPrefs {
		if key.a == userID {
			out = append(out, key.b)
		}
	}
	return sortIDs(out), nil
}

func (r *trackPrefRepo) EnsureIndexes(ctx context.Context) error { return noIndexes(ctx) }
