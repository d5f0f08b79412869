package connect

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

// full-refetch-based consistency. After any mutation whose downstream
// effects are not locally computable (server-aggregated counts, the follow
// graph), the canonical collection is refetched and the store slice replaced
// wholesale, rather than attempting an incremental merge.
type Reconciler struct {
	session *Session
	api     *ConnectApi
	store   *RelationStore

	stateLock     sync.Mutex
	scopeVersions map[string]uint64
}

func NewReconciler(session *Session, api *ConnectApi, store *RelationStore) *Reconciler {
	return &Reconciler{
		session:       session,
		api:           api,
		store:         store,
		scopeVersions: map[string]uint64{},
	}
}

func feedScope() string {
	return "feed"
}

func profileScope(profileId Id) string {
	return fmt.Sprintf("profile:%s", profileId)
}

func (self *Reconciler) nextVersion(scope string) uint64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.scopeVersions[scope] += 1
	return self.scopeVersions[scope]
}

// overlapping refreshes for the same scope collapse: only the most recently
// issued refresh is ever applied
func (self *Reconciler) isCurrent(scope string, version uint64) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.scopeVersions[scope] == version
}

// refetch the viewer's home feed and replace the store slice
func (self *Reconciler) RefreshFeed(done func(err error)) {
	settle := func(err error) {
		if done != nil {
			done(err)
		}
	}

	viewerId, ok := self.session.CurrentUserId()
	if !ok {
		settle(ErrNoIdentity)
		return
	}

	scope := feedScope()
	version := self.nextVersion(scope)

	self.api.GetFeedPosts(&GetFeedPostsArgs{
		UserId: viewerId,
	}, NewApiCallback[[]*Post](func(posts []*Post, err error) {
		if !self.isCurrent(scope, version) {
			glog.V(2).Infof("[reconcile]discard stale %s v%d\n", scope, version)
			settle(nil)
			return
		}
		if err != nil {
			self.store.EmitNotice(NoticeLevelError, "Could not refresh the feed.")
			settle(err)
			return
		}
		self.store.SetFeed(posts)
		settle(nil)
	}))
}

// refetch a profile (owner document, posts, follower/following membership)
// and replace the store slice
func (self *Reconciler) RefreshProfile(profileId Id, done func(err error)) {
	settle := func(err error) {
		if done != nil {
			done(err)
		}
	}

	scope := profileScope(profileId)
	version := self.nextVersion(scope)

	self.api.GetUser(&GetUserArgs{
		UserId: profileId,
	}, NewApiCallback[*User](func(user *User, err error) {
		if !self.isCurrent(scope, version) {
			glog.V(2).Infof("[reconcile]discard stale %s v%d\n", scope, version)
			settle(nil)
			return
		}
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				self.store.EmitNotice(NoticeLevelError, "User not found.")
			} else {
				self.store.EmitNotice(NoticeLevelError, "Could not refresh the profile.")
			}
			settle(err)
			return
		}
		self.store.SetProfile(user)
		settle(nil)
	}))
}

// refresh every loaded collection that currently holds the post. Called
// after a successful mutation so server-computed aggregates stay correct.
func (self *Reconciler) RefreshContaining(postId Id, done func(err error)) {
	scopes := []func(done func(err error)){}

	feed := self.store.Feed()
	for _, post := range feed {
		if post.Id == postId {
			scopes = append(scopes, self.RefreshFeed)
			break
		}
	}
	for _, profileId := range self.store.ProfileIds() {
		if user, ok := self.store.Profile(profileId); ok {
			for _, post := range user.PostsData {
				if post.Id == postId {
					refreshProfileId := profileId
					scopes = append(scopes, func(done func(err error)) {
						self.RefreshProfile(refreshProfileId, done)
					})
					break
				}
			}
		}
	}

	if len(scopes) == 0 {
		if done != nil {
			done(nil)
		}
		return
	}

	remaining := len(scopes)
	var settleLock sync.Mutex
	var firstErr error
	settle := func(err error) {
		settleLock.Lock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		remaining -= 1
		last := remaining == 0
		settleLock.Unlock()
		if last && done != nil {
			done(firstErr)
		}
	}

	for _, refresh := range scopes {
		refresh(settle)
	}
}
