package connect

import (
	"fmt"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type NoticeLevel string

const (
	NoticeLevelInfo  NoticeLevel = "info"
	NoticeLevelError NoticeLevel = "error"
)

// user-visible status. The rendering layer only ever observes store state
// plus these notices; no failure propagates past the engine as an unhandled
// error.
type Notice struct {
	Level   NoticeLevel
	Message string
}

type NoticeFunction = func(notice *Notice)

var storeLog = LogFn(LogLevelDebug, "store")

// in-memory representation of the currently rendered entities. Single
// mutable point of truth for the client session; mutated only by the engine,
// the reconciliation loop and the search flow.
type RelationStore struct {
	stateLock sync.Mutex

	feed     []*Post
	profiles map[Id]*User

	searchResults []*UserSearchResult

	changeMonitor   *Monitor
	noticeCallbacks *CallbackList[NoticeFunction]
}

func NewRelationStore() *RelationStore {
	return &RelationStore{
		feed:            []*Post{},
		profiles:        map[Id]*User{},
		searchResults:   []*UserSearchResult{},
		changeMonitor:   NewMonitor(),
		noticeCallbacks: NewCallbackList[NoticeFunction](),
	}
}

// channel closed on the next store change
func (self *RelationStore) ChangeChannel() <-chan struct{} {
	return self.changeMonitor.NotifyChannel()
}

func (self *RelationStore) AddNoticeCallback(noticeCallback NoticeFunction) func() {
	callbackId := self.noticeCallbacks.Add(noticeCallback)
	return func() {
		self.noticeCallbacks.Remove(callbackId)
	}
}

func (self *RelationStore) EmitNotice(level NoticeLevel, format string, a ...any) {
	notice := &Notice{
		Level:   level,
		Message: fmt.Sprintf(format, a...),
	}
	for _, callback := range self.noticeCallbacks.Get() {
		callback(notice)
	}
}

// feed

func (self *RelationStore) Feed() []*Post {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	feed := make([]*Post, len(self.feed))
	for i, post := range self.feed {
		feed[i] = post.Clone()
	}
	return feed
}

// wholesale replace, used by the reconciliation loop
func (self *RelationStore) SetFeed(posts []*Post) {
	self.stateLock.Lock()
	self.feed = normalizePosts(posts)
	self.stateLock.Unlock()

	storeLog("replace feed n=%d", len(posts))
	self.changeMonitor.NotifyAll()
}

// profiles

func (self *RelationStore) Profile(userId Id) (*User, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	user, ok := self.profiles[userId]
	if !ok {
		return nil, false
	}
	return user.Clone(), true
}

// wholesale replace, used by the reconciliation loop
func (self *RelationStore) SetProfile(user *User) {
	self.stateLock.Lock()
	self.profiles[user.Id] = normalizeUser(user)
	self.stateLock.Unlock()

	storeLog("replace profile %s", user.Id)
	self.changeMonitor.NotifyAll()
}

func (self *RelationStore) RemoveProfile(userId Id) {
	self.stateLock.Lock()
	delete(self.profiles, userId)
	self.stateLock.Unlock()

	self.changeMonitor.NotifyAll()
}

func (self *RelationStore) ProfileIds() []Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return maps.Keys(self.profiles)
}

// exact snapshot for partial-failure rollback
func (self *RelationStore) ProfileSnapshot(userId Id) (*User, bool) {
	return self.Profile(userId)
}

func (self *RelationStore) RestoreProfile(snapshot *User) {
	self.SetProfile(snapshot.Clone())
}

// toggle the viewer→profile follow edge. The counts shown next to a profile
// are server-computed; this only adjusts edge membership until the refetch.
func (self *RelationStore) SetFollower(profileId Id, viewerId Id, following bool) {
	self.stateLock.Lock()
	if user, ok := self.profiles[profileId]; ok {
		user.Followers = setMembership(user.Followers, viewerId, following)
	}
	self.stateLock.Unlock()

	self.changeMonitor.NotifyAll()
}

// posts

// a post may be rendered in the feed and in a profile at the same time.
// reads return clones so a caller can hold a snapshot across an
// asynchronous boundary.
func (self *RelationStore) Post(postId Id) (*Post, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if post := self.findPost(postId); post != nil {
		return post.Clone(), true
	}
	return nil, false
}

// exact snapshot for partial-failure rollback. Restore puts back this exact
// value, not a recomputed approximation.
func (self *RelationStore) PostSnapshot(postId Id) (*Post, bool) {
	return self.Post(postId)
}

func (self *RelationStore) RestorePost(snapshot *Post) {
	self.replacePost(snapshot.Id, snapshot)
}

// replace the post with the server's canonical record in every slice that
// holds it
func (self *RelationStore) ApplyPost(post *Post) {
	self.replacePost(post.Id, normalizePost(post))
}

func (self *RelationStore) replacePost(postId Id, next *Post) {
	self.stateLock.Lock()
	for i, post := range self.feed {
		if post.Id == postId {
			self.feed[i] = next.Clone()
		}
	}
	for _, user := range self.profiles {
		for i, post := range user.PostsData {
			if post.Id == postId {
				user.PostsData[i] = next.Clone()
			}
		}
	}
	self.stateLock.Unlock()

	self.changeMonitor.NotifyAll()
}

func (self *RelationStore) RemovePost(postId Id) {
	self.stateLock.Lock()
	self.feed = slices.DeleteFunc(self.feed, func(post *Post) bool {
		return post.Id == postId
	})
	for _, user := range self.profiles {
		user.PostsData = slices.DeleteFunc(user.PostsData, func(post *Post) bool {
			return post.Id == postId
		})
		user.PostIds = slices.DeleteFunc(user.PostIds, func(id Id) bool {
			return id == postId
		})
	}
	self.stateLock.Unlock()

	self.changeMonitor.NotifyAll()
}

// toggle membership of `userId` in the post's like set.
// a user likes a post at most once.
func (self *RelationStore) SetLiked(postId Id, userId Id, liked bool) {
	self.stateLock.Lock()
	self.eachPostInstance(postId, func(post *Post) {
		post.Likes = setMembership(post.Likes, userId, liked)
	})
	self.stateLock.Unlock()

	self.changeMonitor.NotifyAll()
}

// insertion order is display order
func (self *RelationStore) AppendComment(postId Id, comment *Comment) {
	self.stateLock.Lock()
	self.eachPostInstance(postId, func(post *Post) {
		commentCopy := *comment
		post.Comments = append(post.Comments, &commentCopy)
	})
	self.stateLock.Unlock()

	self.changeMonitor.NotifyAll()
}

func (self *RelationStore) RemoveComment(postId Id, commentId Id) {
	self.stateLock.Lock()
	self.eachPostInstance(postId, func(post *Post) {
		post.Comments = slices.DeleteFunc(post.Comments, func(comment *Comment) bool {
			return comment.Id == commentId
		})
	})
	self.stateLock.Unlock()

	self.changeMonitor.NotifyAll()
}

func (self *RelationStore) SetDescription(postId Id, description string) {
	self.stateLock.Lock()
	self.eachPostInstance(postId, func(post *Post) {
		post.Description = description
	})
	self.stateLock.Unlock()

	self.changeMonitor.NotifyAll()
}

// search results namespace

func (self *RelationStore) SearchResults() []*UserSearchResult {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	results := make([]*UserSearchResult, len(self.searchResults))
	for i, result := range self.searchResults {
		resultCopy := *result
		results[i] = &resultCopy
	}
	return results
}

// replaced wholesale on every successful query
func (self *RelationStore) SetSearchResults(results []*UserSearchResult) {
	self.stateLock.Lock()
	if results == nil {
		results = []*UserSearchResult{}
	}
	self.searchResults = results
	self.stateLock.Unlock()

	self.changeMonitor.NotifyAll()
}

func (self *RelationStore) ClearSearchResults() {
	self.SetSearchResults(nil)
}

// entities are discarded when the owning view unmounts
func (self *RelationStore) Reset() {
	self.stateLock.Lock()
	self.feed = []*Post{}
	self.profiles = map[Id]*User{}
	self.searchResults = []*UserSearchResult{}
	self.stateLock.Unlock()

	self.changeMonitor.NotifyAll()
}

// must be called inside the state lock
func (self *RelationStore) findPost(postId Id) *Post {
	for _, post := range self.feed {
		if post.Id == postId {
			return post
		}
	}
	for _, user := range self.profiles {
		for _, post := range user.PostsData {
			if post.Id == postId {
				return post
			}
		}
	}
	return nil
}

// must be called inside the state lock
func (self *RelationStore) eachPostInstance(postId Id, update func(post *Post)) {
	for _, post := range self.feed {
		if post.Id == postId {
			update(post)
		}
	}
	for _, user := range self.profiles {
		for _, post := range user.PostsData {
			if post.Id == postId {
				update(post)
			}
		}
	}
}

func setMembership(ids []Id, id Id, member bool) []Id {
	if member {
		if slices.Contains(ids, id) {
			return ids
		}
		return append(ids, id)
	}
	return slices.DeleteFunc(ids, func(memberId Id) bool {
		return memberId == id
	})
}

func normalizePosts(posts []*Post) []*Post {
	if posts == nil {
		return []*Post{}
	}
	next := make([]*Post, len(posts))
	for i, post := range posts {
		next[i] = normalizePost(post)
	}
	return next
}

// normalize a server record at the store boundary: clone, dedup the like
// set, keep comment order
func normalizePost(post *Post) *Post {
	next := post.Clone()
	likes := []Id{}
	for _, userId := range next.Likes {
		likes = setMembership(likes, userId, true)
	}
	next.Likes = likes
	return next
}

// a user never appears in its own followers or following set
func normalizeUser(user *User) *User {
	next := user.Clone()
	next.Followers = slices.DeleteFunc(next.Followers, func(id Id) bool {
		return id == next.Id
	})
	next.Following = slices.DeleteFunc(next.Following, func(id Id) bool {
		return id == next.Id
	})
	next.PostsData = normalizePosts(next.PostsData)
	return next
}
