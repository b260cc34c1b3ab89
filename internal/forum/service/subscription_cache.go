package service

import "sync"

type discussionKey struct {
	userID       int64
	discussionID int64
}

type discussionPoint struct {
	forumID    int64
	preference int64
	found      bool
}

// SubscriptionCache 订阅查询缓存，整论坛预填充或逐条记忆
type SubscriptionCache struct {
	mu sync.RWMutex

	forumSubs   map[int64]map[int64]bool // forum -> user -> subscribed
	forumFilled map[int64]bool

	discussionSubs   map[int64]map[int64]map[int64]int64 // forum -> user -> discussion -> preference
	discussionFilled map[int64]bool
	discussionPoints map[discussionKey]discussionPoint
}

// NewSubscriptionCache 创建空缓存
func NewSubscriptionCache() *SubscriptionCache {
	c := &SubscriptionCache{}
	c.Reset()
	return c
}

// Reset 清空缓存
func (c *SubscriptionCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forumSubs = make(map[int64]map[int64]bool)
	c.forumFilled = make(map[int64]bool)
	c.discussionSubs = make(map[int64]map[int64]map[int64]int64)
	c.discussionFilled = make(map[int64]bool)
	c.discussionPoints = make(map[discussionKey]discussionPoint)
}

func (c *SubscriptionCache) forumSubscribed(forumID, userID int64) (subscribed, known bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	users, ok := c.forumSubs[forumID]
	if ok {
		if v, ok := users[userID]; ok {
			return v, true
		}
	}
	return false, c.forumFilled[forumID]
}

func (c *SubscriptionCache) setForumSubscribed(forumID, userID int64, subscribed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	users, ok := c.forumSubs[forumID]
	if !ok {
		users = make(map[int64]bool)
		c.forumSubs[forumID] = users
	}
	users[userID] = subscribed
}

func (c *SubscriptionCache) forumFilledFor(forumID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.forumFilled[forumID]
}

func (c *SubscriptionCache) fillForum(forumID int64, userIDs []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make(map[int64]bool, len(userIDs))
	for _, id := range userIDs {
		users[id] = true
	}
	c.forumSubs[forumID] = users
	c.forumFilled[forumID] = true
}

func (c *SubscriptionCache) discussionPreference(forumID, userID, discussionID int64) (preference int64, found, known bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.discussionFilled[forumID] {
		preference, found = c.discussionSubs[forumID][userID][discussionID]
		return preference, found, true
	}
	if p, ok := c.discussionPoints[discussionKey{userID, discussionID}]; ok {
		return p.preference, p.found, true
	}
	return 0, false, false
}

func (c *SubscriptionCache) discussionFilledFor(forumID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.discussionFilled[forumID]
}

func (c *SubscriptionCache) setDiscussionPreference(forumID, userID, discussionID, preference int64, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discussionPoints[discussionKey{userID, discussionID}] = discussionPoint{forumID: forumID, preference: preference, found: found}
	if !c.discussionFilled[forumID] {
		return
	}
	users := c.discussionSubs[forumID]
	if !found {
		delete(users[userID], discussionID)
		return
	}
	if users[userID] == nil {
		users[userID] = make(map[int64]int64)
	}
	users[userID][discussionID] = preference
}

func (c *SubscriptionCache) fillDiscussions(forumID int64, subs map[int64]map[int64]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discussionSubs[forumID] = subs
	c.discussionFilled[forumID] = true
}

// userDiscussionPreferences 已预填充论坛中用户的话题订阅
func (c *SubscriptionCache) userDiscussionPreferences(forumID, userID int64) map[int64]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.discussionSubs[forumID][userID]
}

// forgetDiscussionPreferences 删除用户在论坛下满足 match 的话题订阅缓存
func (c *SubscriptionCache) forgetDiscussionPreferences(forumID, userID int64, match func(preference int64) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, p := range c.discussionPoints {
		if key.userID == userID && p.forumID == forumID && (!p.found || match(p.preference)) {
			delete(c.discussionPoints, key)
		}
	}
	if users, ok := c.discussionSubs[forumID]; ok {
		for discussionID, pref := range users[userID] {
			if match(pref) {
				delete(users[userID], discussionID)
			}
		}
	}
}
