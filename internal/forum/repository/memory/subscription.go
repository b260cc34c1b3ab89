package memory

import (
	"context"
	"fmt"

	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
)

type subscriptionRepo struct{ db *DB }

func (r *subscriptionRepo) Exists(ctx context.Context, userID, forumID int64) (bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	_, ok := r.db.subs[pairKey{userID, forumID}]
	return ok, nil
}

func (r *subscriptionRepo) Insert(ctx context.Context, userID, forumID int64) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := pairKey{userID, forumID}
	if _, ok := r.db.subs[key]; ok {
		return false, nil
	}
	r.db.subs[key] = struct{}{}
	return true, nil
}

func (r *subscriptionRepo) Delete(ctx context.Context, userID, forumID int64) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := pairKey{userID, forumID}
	if _, ok := r.db.subs[key]; !ok {
		return false, nil
	}
	delete(r.db.subs, key)
	return true, nil
}

func (r *subscriptionRepo) ListUserIDs(ctx context.Context, forumID int64) ([]int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []int64
	for key := range r.db.subs {
		if key.b == forumID {
			out = append(out, key.a)
		}
	}
	return sortIDs(out), nil
}

func (r *subscriptionRepo) ListForumIDs(ctx context.Context, userID int64, forumIDs []int64) ([]int64, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []int64
	for _, forumID := range forumIDs {
		if _, ok := r.db.subs[pairKey{userID, forumID}]; ok {
			out = append(out, forumID)
		}
	}
	return sortIDs(out), nil
}

func (r *subscriptionRepo) DeleteByForum(ctx context.Context, forumID int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for key := range r.db.subs {
		if key.b == forumID {
			delete(r.db.subs, key)
		}
	}
	return nil
}

func (r *subscriptionRepo) EnsureIndexes(ctx context.Context) error { return noIndexes(ctx) }

type discussionSubRepo struct{ db *DB }

func (r *discussionSubRepo) Get(ctx context.Context, userID, discussionID int64) (*models.DiscussionSubscription, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	sub, ok := r.db.discSubs[pairKey{userID, discussionID}]
	if !ok {
		return nil, fmt.Errorf("discussion subscription %d/%d: %w", userID, discussionID, repository.ErrNotFound)
	}
	return &sub, nil
}

func (r *discussionSubRepo) ListByForum(ctx context.Context, forumID int64) ([]*models.DiscussionSubscription, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.DiscussionSubscription
	for _, sub := range r.db.discSubs {
		if sub.ForumID == forumID {
			s := sub
			out = append(out, &s)
		}
	}
	return out, nil
}

func (r *discussionSubRepo) Upsert(ctx context.Context, sub *models.DiscussionSubscription) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.discSubs[pairKey{sub.UserID, sub.DiscussionID}] = *sub
	return nil
}

func (r *discussionSubRepo) Delete(ctx context.Context, userID, discussionID int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.discSubs, pairKey{userID, discussionID})
	return nil
}

func (r *discussionSubRepo) DeleteByUserForum(ctx context.Context, userID, forumID int64, onlyUnsubscribed bool) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for key, sub := range r.db.discSubs {
		if sub.UserID != userID || sub.ForumID != forumID {
			continue
		}
		if onlyUnsubscribed && !sub.Unsubscribed() {
			continue
		}
		delete(r.db.discSubs, key)
		n++
	}
	return n, nil
}

func (r *discussionSubRepo) DeleteByDiscussion(ctx context.Context, discussionID int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for key := range r.db.discSubs {
		if key.b == discussionID {
			delete(r.db.discSubs, key)
		}
	}
	return nil
}

func (r *discussionSubRepo) EnsureIndexes(ctx context.Context) error { return noIndexes(ctx) }
