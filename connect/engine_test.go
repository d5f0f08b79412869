package connect

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func newTestClient(platform *testPlatform, userId Id, username string) *Client {
	client := NewClient(
		context.Background(),
		platform.url(),
		&DebouncerSettings{Delay: 20 * time.Millisecond},
	)
	client.Session.SetToken(makeToken(string(userId), username))
	return client
}

func refreshFeedBlocking(t *testing.T, client *Client) {
	done := make(chan error, 1)
	client.Reconciler.RefreshFeed(func(err error) {
		done <- err
	})
	assert.Equal(t, <-done, nil)
}

func refreshProfileBlocking(t *testing.T, client *Client, profileId Id) {
	done := make(chan error, 1)
	client.Reconciler.RefreshProfile(profileId, func(err error) {
		done <- err
	})
	assert.Equal(t, <-done, nil)
}

func TestToggleLikeEndToEnd(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	platform.addPost(newTestPost("p1", "u1"))

	client := newTestClient(platform, "u9", "nine")
	defer client.Close()
	refreshFeedBlocking(t, client)

	done := make(chan error, 1)
	err := client.Engine.ToggleLike("p1", func(err error) {
		done <- err
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, <-done, nil)

	post, _ := client.Store.Post("p1")
	assert.Equal(t, post.Likes, []Id{"u9"})
	assert.Equal(t, platform.calls("like"), 1)

	// toggling again unlikes
	err = client.Engine.ToggleLike("p1", func(err error) {
		done <- err
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, <-done, nil)

	post, _ = client.Store.Post("p1")
	assert.Equal(t, post.Likes, []Id{})
	assert.Equal(t, platform.calls("unlike"), 1)
}

func TestToggleLikeRollback(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	platform.addPost(newTestPost("p1", "u1"))

	client := newTestClient(platform, "u9", "nine")
	defer client.Close()
	refreshFeedBlocking(t, client)

	notices := []*Notice{}
	client.Store.AddNoticeCallback(func(notice *Notice) {
		notices = append(notices, notice)
	})

	platform.failNext("like")

	done := make(chan error, 1)
	err := client.Engine.ToggleLike("p1", func(err error) {
		done <- err
	})
	assert.Equal(t, err, nil)
	if err := <-done; err == nil {
		t.Fatal("expected the remote failure to surface")
	}

	// the like set returns to exactly the prior value
	post, _ := client.Store.Post("p1")
	assert.Equal(t, post.Likes, []Id{})
	assert.Equal(t, len(notices), 1)
	assert.Equal(t, notices[0].Level, NoticeLevelError)
}

func TestToggleLikeOutstandingGuard(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	platform.addPost(newTestPost("p1", "u1"))

	client := newTestClient(platform, "u9", "nine")
	defer client.Close()
	refreshFeedBlocking(t, client)

	release, arrived := platform.hold("like")

	done := make(chan error, 1)
	err := client.Engine.ToggleLike("p1", func(err error) {
		done <- err
	})
	assert.Equal(t, err, nil)
	<-arrived

	// the optimistic step is applied while the call is outstanding
	post, _ := client.Store.Post("p1")
	assert.Equal(t, post.Likes, []Id{"u9"})

	// a second toggle while one is outstanding is rejected, so two rapid
	// likes produce one net like rather than a toggle back to unliked
	err = client.Engine.ToggleLike("p1", nil)
	assert.Equal(t, err, ErrMutationOutstanding)

	release()
	assert.Equal(t, <-done, nil)

	post, _ = client.Store.Post("p1")
	assert.Equal(t, post.Likes, []Id{"u9"})
	assert.Equal(t, platform.calls("like"), 1)
	assert.Equal(t, platform.calls("unlike"), 0)

	// settled, so the next toggle is accepted again
	done2 := make(chan error, 1)
	err = client.Engine.ToggleLike("p1", func(err error) {
		done2 <- err
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, <-done2, nil)
}

func TestAppendCommentPlaceholder(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	platform.addPost(newTestPost("p1", "u1"))

	client := newTestClient(platform, "u9", "nine")
	defer client.Close()
	refreshFeedBlocking(t, client)

	release, arrived := platform.hold("comment")

	done := make(chan error, 1)
	err := client.Engine.AppendComment("p1", "first!", func(err error) {
		done <- err
	})
	assert.Equal(t, err, nil)
	<-arrived

	// a placeholder with a client-generated id renders immediately
	post, _ := client.Store.Post("p1")
	assert.Equal(t, len(post.Comments), 1)
	assert.Equal(t, IsPlaceholderId(post.Comments[0].Id), true)
	assert.Equal(t, post.Comments[0].Username, "nine")
	assert.Equal(t, post.Comments[0].Text, "first!")

	release()
	assert.Equal(t, <-done, nil)

	// the canonical record replaces the placeholder
	post, _ = client.Store.Post("p1")
	assert.Equal(t, len(post.Comments), 1)
	assert.Equal(t, post.Comments[0].Id, Id("c1"))
	assert.Equal(t, IsPlaceholderId(post.Comments[0].Id), false)
}

func TestAppendCommentRollback(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	platform.addPost(newTestPost("p1", "u1"))

	client := newTestClient(platform, "u9", "nine")
	defer client.Close()
	refreshFeedBlocking(t, client)

	platform.failNext("comment")

	done := make(chan error, 1)
	err := client.Engine.AppendComment("p1", "first!", func(err error) {
		done <- err
	})
	assert.Equal(t, err, nil)
	if err := <-done; err == nil {
		t.Fatal("expected the remote failure to surface")
	}

	post, _ := client.Store.Post("p1")
	assert.Equal(t, post.Comments, []*Comment{})
}

func TestAppendCommentEmpty(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	platform.addPost(newTestPost("p1", "u1"))

	client := newTestClient(platform, "u9", "nine")
	defer client.Close()
	refreshFeedBlocking(t, client)

	err := client.Engine.AppendComment("p1", "   ", nil)
	assert.Equal(t, err, ErrEmptyComment)
	assert.Equal(t, platform.calls("comment"), 0)
}

func TestOwnerGating(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	platform.addPost(newTestPost("p1", "u1"))

	viewer := newTestClient(platform, "u2", "two")
	defer viewer.Close()
	refreshFeedBlocking(t, viewer)

	// no edit/delete affordance for a non-owner, and forced calls are
	// rejected before any remote traffic
	assert.Equal(t, viewer.Engine.CanModify("p1"), false)
	assert.Equal(t, viewer.Engine.UpdateDescription("p1", "mine now", nil), ErrNotOwner)
	assert.Equal(t, viewer.Engine.DeletePost("p1", true, nil), ErrNotOwner)
	assert.Equal(t, platform.calls("update"), 0)
	assert.Equal(t, platform.calls("delete"), 0)

	owner := newTestClient(platform, "u1", "one")
	defer owner.Close()
	refreshFeedBlocking(t, owner)

	assert.Equal(t, owner.Engine.CanModify("p1"), true)
}

func TestOwnerGatingNormalizesEmbeddedOwner(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	post := newTestPost("p1", "u1")
	// owner arrives as an embedded snapshot rather than a bare id
	post.User = UserRef{
		Id:   "u1",
		User: newTestUser("u1", "one"),
	}
	platform.addPost(post)

	owner := newTestClient(platform, "u1", "one")
	defer owner.Close()
	refreshFeedBlocking(t, owner)

	assert.Equal(t, owner.Engine.CanModify("p1"), true)
}

func TestUpdateDescriptionNotOptimistic(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	platform.addPost(newTestPost("p1", "u1"))

	client := newTestClient(platform, "u1", "one")
	defer client.Close()
	refreshFeedBlocking(t, client)

	release, arrived := platform.hold("update")

	done := make(chan error, 1)
	err := client.Engine.UpdateDescription("p1", "edited", func(err error) {
		done <- err
	})
	assert.Equal(t, err, nil)
	<-arrived

	// no optimistic step for edits: the old text stays until the server
	// acknowledges
	post, _ := client.Store.Post("p1")
	assert.Equal(t, post.Description, "a post")

	release()
	assert.Equal(t, <-done, nil)

	post, _ = client.Store.Post("p1")
	assert.Equal(t, post.Description, "edited")
}

func TestDeletePostConfirmation(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	platform.addPost(newTestPost("p1", "u1"))

	client := newTestClient(platform, "u1", "one")
	defer client.Close()
	refreshFeedBlocking(t, client)

	assert.Equal(t, client.Engine.DeletePost("p1", false, nil), ErrNotConfirmed)
	assert.Equal(t, platform.calls("delete"), 0)

	done := make(chan error, 1)
	err := client.Engine.DeletePost("p1", true, func(err error) {
		done <- err
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, <-done, nil)

	_, ok := client.Store.Post("p1")
	assert.Equal(t, ok, false)
	assert.Equal(t, platform.calls("delete"), 1)
}

func TestToggleFollowSymmetry(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	platform.addUser(newTestUser("v1", "viewer"))
	platform.addUser(newTestUser("t1", "target"))

	client := newTestClient(platform, "v1", "viewer")
	defer client.Close()
	refreshProfileBlocking(t, client, "t1")

	done := make(chan error, 1)
	err := client.Engine.ToggleFollow("t1", func(err error) {
		done <- err
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, <-done, nil)

	// the refetched profile shows the viewer in the follower set
	profile, _ := client.Store.Profile("t1")
	assert.Equal(t, profile.HasFollower("v1"), true)
	assert.Equal(t, platform.calls("follow"), 1)

	err = client.Engine.ToggleFollow("t1", func(err error) {
		done <- err
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, <-done, nil)

	profile, _ = client.Store.Profile("t1")
	assert.Equal(t, profile.HasFollower("v1"), false)
	assert.Equal(t, platform.calls("unfollow"), 1)
}

func TestToggleFollowRollback(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	platform.addUser(newTestUser("v1", "viewer"))
	platform.addUser(newTestUser("t1", "target"))

	client := newTestClient(platform, "v1", "viewer")
	defer client.Close()
	refreshProfileBlocking(t, client, "t1")

	platform.failNext("follow")

	done := make(chan error, 1)
	err := client.Engine.ToggleFollow("t1", func(err error) {
		done <- err
	})
	assert.Equal(t, err, nil)
	if err := <-done; err == nil {
		t.Fatal("expected the remote failure to surface")
	}

	profile, _ := client.Store.Profile("t1")
	assert.Equal(t, profile.Followers, []Id{})
}

func TestToggleFollowSelf(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	platform.addUser(newTestUser("v1", "viewer"))

	client := newTestClient(platform, "v1", "viewer")
	defer client.Close()
	refreshProfileBlocking(t, client, "v1")

	assert.Equal(t, client.Engine.ToggleFollow("v1", nil), ErrSelfFollow)
	assert.Equal(t, platform.calls("follow"), 0)
}

func TestMutationRequiresIdentity(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()
	platform.addPost(newTestPost("p1", "u1"))

	client := NewClient(context.Background(), platform.url(), DefaultDebouncerSettings())
	defer client.Close()

	assert.Equal(t, client.Engine.ToggleLike("p1", nil), ErrNoIdentity)
	assert.Equal(t, client.Engine.ToggleFollow("u1", nil), ErrNoIdentity)
	assert.Equal(t, client.Engine.AppendComment("p1", "hi", nil), ErrNoIdentity)
}

func TestMutationRequiresLoadedEntity(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()

	client := newTestClient(platform, "u9", "nine")
	defer client.Close()

	assert.Equal(t, client.Engine.ToggleLike("missing", nil), ErrUnknownEntity)
	assert.Equal(t, client.Engine.ToggleFollow("missing", nil), ErrUnknownEntity)
}

func TestCreatePostRefreshesFeed(t *testing.T) {
	platform := newTestPlatform()
	defer platform.close()

	client := newTestClient(platform, "u1", "one")
	defer client.Close()
	refreshFeedBlocking(t, client)

	done := make(chan error, 1)
	err := client.Engine.CreatePost(&CreatePostArgs{
		Description: "hello",
		Mentions:    []string{"briar"},
		Location:    &Location{Lat: 12.5, Lng: -3.25},
	}, func(err error) {
		done <- err
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, <-done, nil)

	feed := client.Store.Feed()
	assert.Equal(t, len(feed), 1)
	assert.Equal(t, feed[0].Description, "hello")
	assert.Equal(t, feed[0].Mentions, []string{"briar"})
	assert.Equal(t, feed[0].Location.Lat, 12.5)
}
