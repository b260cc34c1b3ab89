package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
)

type digestKey struct {
	userID  int64
	forumID int64
}

// runIndex 单次运行使用的只读查找表，构建后不再修改
type runIndex struct {
	discussions map[int64]*models.Discussion
	forums      map[int64]*models.Forum
	courses     map[int64]*models.Course
	modules     map[int64]*models.CourseModule // 按论坛 ID
	users       map[int64]*models.User
	digests     map[digestKey]int
}

// postRef 帖子及其解析出的上下文
type postRef struct {
	post       *models.Post
	discussion *models.Discussion
	forum      *models.Forum
	course     *models.Course
	module     *models.CourseModule
	author     *models.User
}

// buildIndex 加载 posts 关联的话题、论坛、课程、课程模块以及 userIDs 对应的用户
func buildIndex(ctx context.Context, store *repository.Store, posts []*models.Post, userIDs []int64) (*runIndex, error) {
	idx := &runIndex{
		discussions: make(map[int64]*models.Discussion),
		forums:      make(map[int64]*models.Forum),
		courses:     make(map[int64]*models.Course),
		modules:     make(map[int64]*models.CourseModule),
		users:       make(map[int64]*models.User),
		digests:     make(map[digestKey]int),
	}

	discussionIDs := make([]int64, 0, len(posts))
	for _, post := range posts {
		discussionIDs = append(discussionIDs, post.DiscussionID)
		userIDs = append(userIDs, post.UserID)
	}

	discussions, err := store.Discussions.ListByIDs(ctx, distinct(discussionIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load discussions: %w", err)
	}
	forumIDs := make([]int64, 0, len(discussions))
	for _, d := range discussions {
		idx.discussions[d.ID] = d
		forumIDs = append(forumIDs, d.ForumID)
	}
	forumIDs = distinct(forumIDs)

	forums, err := store.Forums.ListByIDs(ctx, forumIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load forums: %w", err)
	}
	for _, forum := range forums {
		idx.forums[forum.ID] = forum

		if _, ok := idx.courses[forum.CourseID]; !ok {
			course, err := store.Courses.GetCourse(ctx, forum.CourseID)
			switch {
			case errors.Is(err, repository.ErrNotFound):
			case err != nil:
				return nil, fmt.Errorf("failed to load course %d: %w", forum.CourseID, err)
			default:
				idx.courses[course.ID] = course
			}
		}

		cm, err := store.Courses.GetModuleByForum(ctx, forum.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to load course module for forum %d: %w", forum.ID, err)
		default:
			idx.modules[forum.ID] = cm
		}
	}

	users, err := store.Users.ListByIDs(ctx, distinct(userIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	for _, user := range users {
		idx.users[user.ID] = user
	}

	prefs, err := store.Digests.ListByForums(ctx, forumIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load digest preferences: %w", err)
	}
	for _, pref := range prefs {
		idx.digests[digestKey{pref.UserID, pref.ForumID}] = pref.MailDigest
	}

	return idx, nil
}

// resolve 解析帖子上下文，任一环节缺失时返回 false
func (idx *runIndex) resolve(post *models.Post) (*postRef, bool) {
	discussion, ok := idx.discussions[post.DiscussionID]
	if !ok {
		return nil, false
	}
	forum, ok := idx.forums[discussion.ForumID]
	if !ok {
		return nil, false
	}
	course, ok := idx.courses[forum.CourseID]
	if !ok {
		return nil, false
	}
	cm, ok := idx.modules[forum.ID]
	if !ok {
		return nil, false
	}
	return &postRef{
		post:       post,
		discussion: discussion,
		forum:      forum,
		course:     course,
		module:     cm,
		author:     idx.users[post.UserID],
	}, true
}

// digestLevel 用户在论坛的摘要级别，未设置或为默认值时使用用户全局设置
func (idx *runIndex) digestLevel(user *models.User, forumID int64) int {
	if level, ok := idx.digests[digestKey{user.ID, forumID}]; ok && level != models.DigestDefault {
		return level
	}
	return user.MailDigest
}

func distinct(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
