package connect

import (
	"strings"
	"sync"

	"github.com/golang/glog"
)

// settlement callback for a mutation. The error is the remote outcome after
// any rollback has already been applied to the store.
type DoneFunction = func(err error)

// applies every user-visible interaction to the relation store immediately,
// issues the corresponding remote mutation, and reconciles or rolls back
// based on the outcome. The visible state always converges to what the
// server actually accepted.
type Engine struct {
	session    *Session
	api        *ConnectApi
	store      *RelationStore
	reconciler *Reconciler

	stateLock sync.Mutex
	// at most one mutation in flight per entity. A toggle attempted while
	// one is outstanding for the same entity is rejected until resolution.
	outstanding map[Id]bool
}

func NewEngine(session *Session, api *ConnectApi, store *RelationStore, reconciler *Reconciler) *Engine {
	return &Engine{
		session:     session,
		api:         api,
		store:       store,
		reconciler:  reconciler,
		outstanding: map[Id]bool{},
	}
}

func (self *Engine) beginMutation(entityId Id) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.outstanding[entityId] {
		return ErrMutationOutstanding
	}
	self.outstanding[entityId] = true
	glog.V(2).Infof("[engine]begin mutation %s\n", entityId)
	return nil
}

func (self *Engine) endMutation(entityId Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	delete(self.outstanding, entityId)
	glog.V(2).Infof("[engine]settle mutation %s\n", entityId)
}

// owner gating: edit/delete are permitted exactly when the acting identity
// equals the post's owning identity. Both sides are normalized bare ids.
func (self *Engine) CanModify(postId Id) bool {
	viewerId, ok := self.session.CurrentUserId()
	if !ok {
		return false
	}
	post, ok := self.store.Post(postId)
	if !ok {
		return false
	}
	return post.OwnerId() == viewerId
}

// toggle the viewer's membership in the post's like set. The direction is
// computed from current membership, applied optimistically, and confirmed by
// the server's canonical post record.
func (self *Engine) ToggleLike(postId Id, done DoneFunction) error {
	viewerId, ok := self.session.CurrentUserId()
	if !ok {
		return ErrNoIdentity
	}
	snapshot, ok := self.store.PostSnapshot(postId)
	if !ok {
		return ErrUnknownEntity
	}
	if err := self.beginMutation(postId); err != nil {
		return err
	}

	liked := snapshot.LikedBy(viewerId)
	self.store.SetLiked(postId, viewerId, !liked)

	callback := NewApiCallback[*Post](func(result *Post, err error) {
		defer self.endMutation(postId)

		if err != nil {
			glog.V(1).Infof("[engine]like %s rollback: %v\n", postId, err)
			self.store.RestorePost(snapshot)
			self.store.EmitNotice(NoticeLevelError, "Could not update the like.")
			self.settle(done, err)
			return
		}
		if result != nil && !result.Id.IsZero() {
			self.store.ApplyPost(result)
		}
		self.reconciler.RefreshContaining(postId, func(refreshErr error) {
			self.settle(done, nil)
		})
	})

	args := &LikePostArgs{
		ViewerId: viewerId,
		PostId:   postId,
	}
	if liked {
		self.api.UnlikePost(args, callback)
	} else {
		self.api.LikePost(args, callback)
	}
	return nil
}

// toggle the viewer→profile follow edge. Follower and following counts are
// server-computed aggregates, so success triggers a full profile refetch
// instead of local increments.
func (self *Engine) ToggleFollow(profileId Id, done DoneFunction) error {
	viewerId, ok := self.session.CurrentUserId()
	if !ok {
		return ErrNoIdentity
	}
	if viewerId == profileId {
		return ErrSelfFollow
	}
	snapshot, ok := self.store.ProfileSnapshot(profileId)
	if !ok {
		return ErrUnknownEntity
	}
	if err := self.beginMutation(profileId); err != nil {
		return err
	}

	following := snapshot.HasFollower(viewerId)
	self.store.SetFollower(profileId, viewerId, !following)

	callback := NewApiCallback[*MessageResult](func(result *MessageResult, err error) {
		defer self.endMutation(profileId)

		if err != nil {
			glog.V(1).Infof("[engine]follow %s rollback: %v\n", profileId, err)
			self.store.RestoreProfile(snapshot)
			self.store.EmitNotice(NoticeLevelError, "Could not update the follow.")
			self.settle(done, err)
			return
		}
		self.reconciler.RefreshProfile(profileId, func(refreshErr error) {
			self.settle(done, nil)
		})
	})

	if following {
		self.api.UnfollowUser(&UnfollowUserArgs{
			ViewerId:   viewerId,
			UnfollowId: profileId,
		}, callback)
	} else {
		self.api.FollowUser(&FollowUserArgs{
			ViewerId: viewerId,
			FollowId: profileId,
		}, callback)
	}
	return nil
}

// append a placeholder comment at the tail of the post's comment sequence,
// then replace it with the server's canonical record when one arrives
func (self *Engine) AppendComment(postId Id, text string, done DoneFunction) error {
	viewerId, ok := self.session.CurrentUserId()
	if !ok {
		return ErrNoIdentity
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyComment
	}
	snapshot, ok := self.store.PostSnapshot(postId)
	if !ok {
		return ErrUnknownEntity
	}
	if err := self.beginMutation(postId); err != nil {
		return err
	}

	placeholder := &Comment{
		Id:       NewPlaceholderId(),
		Username: self.session.Username(),
		Text:     text,
	}
	self.store.AppendComment(postId, placeholder)

	self.api.CommentOnPost(&CommentOnPostArgs{
		ViewerId: viewerId,
		PostId:   postId,
		Text:     text,
		Username: placeholder.Username,
	}, NewApiCallback[*Post](func(result *Post, err error) {
		defer self.endMutation(postId)

		if err != nil {
			glog.V(1).Infof("[engine]comment %s rollback: %v\n", postId, err)
			self.store.RestorePost(snapshot)
			self.store.EmitNotice(NoticeLevelError, "Could not post the comment.")
			self.settle(done, err)
			return
		}
		if result != nil && !result.Id.IsZero() {
			// canonical record replaces the placeholder wholesale
			self.store.ApplyPost(result)
		}
		self.reconciler.RefreshContaining(postId, func(refreshErr error) {
			self.settle(done, nil)
		})
	}))
	return nil
}

// not optimistic: the description is replaced only after the server
// acknowledges, since no rollback text is presentable mid-edit
func (self *Engine) UpdateDescription(postId Id, description string, done DoneFunction) error {
	viewerId, ok := self.session.CurrentUserId()
	if !ok {
		return ErrNoIdentity
	}
	if _, ok := self.store.Post(postId); !ok {
		return ErrUnknownEntity
	}
	if !self.CanModify(postId) {
		return ErrNotOwner
	}
	if err := self.beginMutation(postId); err != nil {
		return err
	}

	self.api.UpdatePost(&UpdatePostArgs{
		ViewerId:    viewerId,
		PostId:      postId,
		Description: description,
	}, NewApiCallback[*UpdatePostResult](func(result *UpdatePostResult, err error) {
		defer self.endMutation(postId)

		if err != nil {
			self.store.EmitNotice(NoticeLevelError, "Could not update the post.")
			self.settle(done, err)
			return
		}
		next := description
		if result != nil && result.Description != "" {
			next = result.Description
		}
		self.store.SetDescription(postId, next)
		self.reconciler.RefreshContaining(postId, func(refreshErr error) {
			self.settle(done, nil)
		})
	}))
	return nil
}

// removal is applied only after server acknowledgment, guarded by an
// explicit confirmation step
func (self *Engine) DeletePost(postId Id, confirmed bool, done DoneFunction) error {
	viewerId, ok := self.session.CurrentUserId()
	if !ok {
		return ErrNoIdentity
	}
	if !confirmed {
		return ErrNotConfirmed
	}
	if _, ok := self.store.Post(postId); !ok {
		return ErrUnknownEntity
	}
	if !self.CanModify(postId) {
		return ErrNotOwner
	}
	if err := self.beginMutation(postId); err != nil {
		return err
	}

	self.api.DeletePost(&DeletePostArgs{
		ViewerId: viewerId,
		PostId:   postId,
	}, NewApiCallback[*MessageResult](func(result *MessageResult, err error) {
		defer self.endMutation(postId)

		if err != nil {
			self.store.EmitNotice(NoticeLevelError, "Could not delete the post.")
			self.settle(done, err)
			return
		}
		self.store.RemovePost(postId)
		self.store.EmitNotice(NoticeLevelInfo, "Post deleted.")
		self.settle(done, nil)
	}))
	return nil
}

// create a post (multipart: description, media, mentions, location), then
// refresh the feed so the new post appears with server-assigned fields
func (self *Engine) CreatePost(args *CreatePostArgs, done DoneFunction) error {
	viewerId, ok := self.session.CurrentUserId()
	if !ok {
		return ErrNoIdentity
	}
	args.UserId = viewerId

	self.api.CreatePost(args, NewApiCallback[*Post](func(result *Post, err error) {
		if err != nil {
			self.store.EmitNotice(NoticeLevelError, "Could not create the post.")
			self.settle(done, err)
			return
		}
		self.store.EmitNotice(NoticeLevelInfo, "Post created.")
		self.reconciler.RefreshFeed(func(refreshErr error) {
			self.settle(done, nil)
		})
	}))
	return nil
}

func (self *Engine) settle(done DoneFunction, err error) {
	if done != nil {
		done(err)
	}
}
