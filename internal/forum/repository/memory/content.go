package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
)

type forumRepo struct{ db *DB }

func (r *forumRepo) Upsert(ctx context.Context, forum *models.Forum) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	forum.TimeModified = time.Now()
	r.db.forums[forum.ID] = *forum
	return nil
}

func (r *forumRepo) Get(ctx context.Context, id int64) (*models.Forum, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	forum, ok := r.db.forums[id]
	if !ok {
		return nil, fmt.Errorf("forum %d: %w", id, repository.ErrNotFound)
	}
	return &forum, nil
}

func (r *forumRepo) ListByIDs(ctx context.Context, ids []int64) ([]*models.Forum, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.Forum
	for _, id := range sortIDs(append([]int64(nil), ids...)) {
		if forum, ok := r.db.forums[id]; ok {
			out = append(out, &forum)
		}
	}
	return out, nil
}

func (r *forumRepo) ListByCourse(ctx context.Context, courseID int64) ([]*models.Forum, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.Forum
	for _, forum := range r.db.forums {
		if forum.CourseID == courseID {
			f := forum
			out = append(out, &f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *forumRepo) UpdateSubscriptionMode(ctx context.Context, forumID int64, mode models.SubscriptionMode) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	forum, ok := r.db.forums[forumID]
	if !ok {
		return fmt.Errorf("forum %d: %w", forumID, repository.ErrNotFound)
	}
	forum.ForceSubscribe = mode
	forum.TimeModified = time.Now()
	r.db.forums[forumID] = forum
	return nil
}

func (r *forumRepo) EnsureIndexes(ctx context.Context) error { return noIndexes(ctx) }

type courseRepo struct{ db *DB }

func (r *courseRepo) UpsertCourse(ctx context.Context, course *models.Course) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.courses[course.ID] = *course
	return nil
}

func (r *courseRepo) GetCourse(ctx context.Context, id int64) (*models.Course, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	course, ok := r.db.courses[id]
	if !ok {
		return nil, fmt.Errorf("course %d: %w", id, repository.ErrNotFound)
	}
	return &course, nil
}

func (r *courseRepo) UpsertModule(ctx context.Context, cm *models.CourseModule) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.modules[cm.ID] = *cm
	return nil
}

func (r *courseRepo) GetModuleByForum(ctx context.Context, forumID int64) (*models.CourseModule, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, cm := range r.db.modules {
		if cm.ForumID == forumID {
			m := cm
			return &m, nil
		}
	}
	return nil, fmt.Errorf("course module for forum %d: %w", forumID, repository.ErrNotFound)
}

func (r *courseRepo) EnsureIndexes(ctx context.Context) error { return noIndexes(ctx) }

type discussionRepo struct{ db *DB }

func (r *discussionRepo) Create(ctx context.Context, discussion *models.Discussion) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, exists := r.db.discussions[discussion.ID]; exists {
		return fmt.Errorf("failed to create discussion: duplicate id %d", discussion.ID)
	}
	r.db.discussions[discussion.ID] = *discussion
	return nil
}

func (r *discussionRepo) Get(ctx context.Context, id int64) (*models.Discussion, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	d, ok := r.db.discussions[id]
	if !ok {
		return nil, fmt.Errorf("discussion %d: %w", id, repository.ErrNotFound)
	}
	return &d, nil
}

func (r *discussionRepo) ListByIDs(ctx context.Context, ids []int64) ([]*models.Discussion, error) {
	set := idSet(ids)
	return r.filter(func(d *models.Discussion) bool {
		_, ok := set[d.ID]
		return ok
	}), nil
}

func (r *discussionRepo) ListByForum(ctx context.Context, forumID int64) ([]*models.Discussion, error) {
	return r.filter(func(d *models.Discussion) bool { return d.ForumID == forumID }), nil
}

func (r *discussionRepo) ListStartingBetween(ctx context.Context, start, end time.Time) ([]*models.Discussion, error) {
	return r.filter(func(d *models.Discussion) bool {
		return !d.TimeStart.IsZero() && !d.TimeStart.Before(start) && d.TimeStart.Before(end)
	}), nil
}

func (r *discussionRepo) filter(match func(*models.Discussion) bool) []*models.Discussion {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.Discussion
	for _, d := range r.db.discussions {
		d := d
		if match(&d) {
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *discussionRepo) CountByUser(ctx context.Context, forumID, userID int64) (int64, error) {
	return int64(len(r.filter(func(d *models.Discussion) bool {
		return d.ForumID == forumID && d.UserID == userID
	}))), nil
}

func (r *discussionRepo) SetFirstPost(ctx context.Context, discussionID, postID int64) error {
	return r.update(discussionID, func(d *models.Discussion) { d.FirstPostID = postID })
}

func (r *discussionRepo) Touch(ctx context.Context, discussionID int64, at time.Time) error {
	return r.update(discussionID, func(d *models.Discussion) { d.TimeModified = at })
}

func (r *discussionRepo) update(id int64, apply func(*models.Discussion)) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d, ok := r.db.discussions[id]
	if !ok {
		return fmt.Errorf("discussion %d: %w", id, repository.ErrNotFound)
	}
	apply(&d)
	r.db.discussions[id] = d
	return nil
}

func (r *discussionRepo) Delete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.discussions, id)
	return nil
}

func (r *discussionRepo) EnsureIndexes(ctx context.Context) error { return noIndexes(ctx) }

type postRepo struct{ db *DB }

func (r *postRepo) Create(ctx context.Context, post *models.Post) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, exists := r.db.posts[post.ID]; exists {
		return fmt.Errorf("failed to create post: duplicate id %d", post.ID)
	}
	r.db.posts[post.ID] = *post
	return nil
}

func (r *postRepo) Get(ctx context.Context, id int64) (*models.Post, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	p, ok := r.db.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %d: %w", id, repository.ErrNotFound)
	}
	return &p, nil
}

func (r *postRepo) ListByIDs(ctx context.Context, ids []int64) ([]*models.Post, error) {
	set := idSet(ids)
	return r.filter(func(p *models.Post) bool {
		_, ok := set[p.ID]
		return ok
	}), nil
}

func (r *postRepo) ListByDiscussion(ctx context.Context, discussionID int64) ([]*models.Post, error) {
	return r.filter(func(p *models.Post) bool { return p.DiscussionID == discussionID }), nil
}

func (r *postRepo) ListModifiedSince(ctx context.Context, discussionIDs []int64, since time.Time) ([]*models.Post, error) {
	set := idSet(discussionIDs)
	return r.filter(func(p *models.Post) bool {
		_, ok := set[p.DiscussionID]
		return ok && !p.Modified.Before(since)
	}), nil
}

func (r *postRepo) FindPending(ctx context.Context, start, end time.Time) ([]*models.Post, error) {
	return r.filter(func(p *models.Post) bool {
		if p.Mailed != models.MailPending {
			return false
		}
		return p.MailNow || (!p.Created.Before(start) && p.Created.Before(end))
	}), nil
}

func (r *postRepo) FindPendingInDiscussions(ctx context.Context, discussionIDs []int64, end time.Time) ([]*models.Post, error) {
	set := idSet(discussionIDs)
	return r.filter(func(p *models.Post) bool {
		if _, ok := set[p.DiscussionID]; !ok || p.Mailed != models.MailPending {
			return false
		}
		return p.MailNow || p.Created.Before(end)
	}), nil
}

func (r *postRepo) filter(match func(*models.Post) bool) []*models.Post {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.Post
	for _, p := range r.db.posts {
		p := p
		if match(&p) {
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

func (r *postRepo) SetMailed(ctx context.Context, ids []int64, from, to models.MailStatus) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for _, id := range ids {
		p, ok := r.db.posts[id]
		if !ok || p.Mailed != from {
			continue
		}
		p.Mailed = to
		r.db.posts[id] = p
		n++
	}
	return n, nil
}

func (r *postRepo) Claim(ctx context.Context, ids []int64, from, to models.MailStatus) ([]int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	claimed := make([]int64, 0, len(ids))
	for _, id := range ids {
		p, ok := r.db.posts[id]
		if !ok || p.Mailed != from {
			continue
		}
		p.Mailed = to
		r.db.posts[id] = p
		claimed = append(claimed, id)
	}
	return claimed, nil
}

func (r *postRepo) FirstPostTime(ctx context.Context, discussionID, userID int64) (time.Time, bool, error) {
	posts := r.filter(func(p *models.Post) bool {
		return p.DiscussionID == discussionID && p.UserID == userID
	})
	if len(posts) == 0 {
		return time.Time{}, false, nil
	}
	return posts[0].Created, true, nil
}

func (r *postRepo) ListIDsModifiedBetween(ctx context.Context, from, to time.Time, afterID int64, limit int) ([]int64, error) {
	posts := r.filter(func(p *models.Post) bool {
		return p.ID > afterID && !p.Modified.Before(from) && p.Modified.Before(to)
	})
	ids := make([]int64, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	ids = sortIDs(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *postRepo) Update(ctx context.Context, post *models.Post) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.posts[post.ID]
	if !ok {
		return fmt.Errorf("post %d: %w", post.ID, repository.ErrNotFound)
	}
	p.Subject = post.Subject
	p.Message = post.Message
	p.Modified = post.Modified
	p.MailNow = post.MailNow
	r.db.posts[post.ID] = p
	return nil
}

func (r *postRepo) DeleteMany(ctx context.Context, ids []int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, id := range ids {
		delete(r.db.posts, id)
	}
	return nil
}

func (r *postRepo) EnsureIndexes(ctx context.Context) error { return noIndexes(ctx) }

type userRepo struct{ db *DB }

func (r *userRepo) Upsert(ctx context.Context, user *models.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u := *user
	if u.SiteRole == "" {
		if existing, ok := r.db.users[u.ID]; ok {
			u.SiteRole = existing.SiteRole
		} else {
			u.SiteRole = models.SiteRoleUser
		}
	}
	r.db.users[u.ID] = u
	return nil
}

func (r *userRepo) Get(ctx context.Context, id int64) (*models.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, repository.ErrNotFound)
	}
	return &u, nil
}

func (r *userRepo) ListByIDs(ctx context.Context, ids []int64) ([]*models.User, error) {
	set := idSet(ids)
	return r.filter(func(u *models.User) bool {
		_, ok := set[u.ID]
		return ok
	}), nil
}

func (r *userRepo) ListEnrolled(ctx context.Context, courseID int64) ([]*models.User, error) {
	return r.filter(func(u *models.User) bool {
		return u.Active() && u.EnrolledIn(courseID) != ""
	}), nil
}

func (r *userRepo) filter(match func(*models.User) bool) []*models.User {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var out []*models.User
	for _, u := range r.db.users {
		u := u
		if match(&u) {
			out = append(out, &u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *userRepo) EnsureIndexes(ctx context.Context) error { return noIndexes(ctx) }
