package connect

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// unsigned three-segment credential whose payload carries the identity claim
func makeToken(id string, username string) string {
	encode := func(v any) string {
		b, _ := json.Marshal(v)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	header := encode(map[string]string{
		"alg": "none",
		"typ": "JWT",
	})
	payload := encode(map[string]string{
		"id":       id,
		"username": username,
	})
	return fmt.Sprintf("%s.%s.", header, payload)
}

func newTestPost(postId Id, ownerId Id) *Post {
	return &Post{
		Id:          postId,
		User:        UserRef{Id: ownerId},
		Description: "a post",
		Likes:       []Id{},
		Comments:    []*Comment{},
	}
}

func newTestUser(userId Id, username string) *User {
	return &User{
		Id:        userId,
		Username:  username,
		Followers: []Id{},
		Following: []Id{},
	}
}

// scripted stand-in for the user service. Holds canonical posts and users,
// applies mutations the way the real service does, and lets a test force
// failures or hold a request open to interleave completions.
type testPlatform struct {
	server *httptest.Server

	stateLock sync.Mutex
	posts     []*Post
	users     map[Id]*User
	results   []*UserSearchResult

	nextCommentId int
	callCounts    map[string]int

	// op -> respond 500 to the next call
	fail map[string]bool
	// op -> hold the request open until the channel closes
	gate map[string]chan struct{}
	// op -> closed when a request for the op arrives
	arrived map[string]chan struct{}
}

func newTestPlatform() *testPlatform {
	self := &testPlatform{
		posts:      []*Post{},
		users:      map[Id]*User{},
		results:    []*UserSearchResult{},
		callCounts: map[string]int{},
		fail:       map[string]bool{},
		gate:       map[string]chan struct{}{},
		arrived:    map[string]chan struct{}{},
	}
	self.server = httptest.NewServer(http.HandlerFunc(self.handle))
	return self
}

func (self *testPlatform) close() {
	self.server.Close()
}

func (self *testPlatform) url() string {
	return self.server.URL
}

func (self *testPlatform) addPost(post *Post) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.posts = append(self.posts, post.Clone())
}

func (self *testPlatform) addUser(user *User) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.users[user.Id] = user.Clone()
}

func (self *testPlatform) setResults(results []*UserSearchResult) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.results = results
}

func (self *testPlatform) failNext(op string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.fail[op] = true
}

// hold requests for `op` open until the returned release function is called.
// the second returned channel closes when a request for `op` arrives.
func (self *testPlatform) hold(op string) (func(), chan struct{}) {
	gate := make(chan struct{})
	arrived := make(chan struct{})
	self.stateLock.Lock()
	self.gate[op] = gate
	self.arrived[op] = arrived
	self.stateLock.Unlock()
	release := func() {
		close(gate)
	}
	return release, arrived
}

func (self *testPlatform) calls(op string) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.callCounts[op]
}

func (self *testPlatform) findPost(postId Id) *Post {
	for _, post := range self.posts {
		if post.Id == postId {
			return post
		}
	}
	return nil
}

func (self *testPlatform) handle(w http.ResponseWriter, r *http.Request) {
	parts := []string{}
	for _, part := range strings.Split(r.URL.Path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}

	op := ""
	switch {
	case len(parts) == 2 && parts[0] == "auth" && parts[1] == "login":
		op = "login"
	case len(parts) == 3 && parts[0] == "users" && parts[1] == "search":
		op = "search"
	case len(parts) == 5 && parts[2] == "posts":
		// like, unlike, comment, update, delete
		op = parts[4]
	case len(parts) == 4 && parts[2] == "feed":
		op = "feed"
	case len(parts) == 3 && parts[2] == "posts":
		op = "create"
	case len(parts) == 3 && (parts[2] == "follow" || parts[2] == "unfollow"):
		op = parts[2]
	case len(parts) == 2 && parts[0] == "users":
		op = "user"
	}

	self.stateLock.Lock()
	self.callCounts[op] += 1
	// one-shot: only the first arriving request for the op is held
	gate := self.gate[op]
	delete(self.gate, op)
	arrived := self.arrived[op]
	delete(self.arrived, op)
	failed := self.fail[op]
	if failed {
		self.fail[op] = false
	}
	self.stateLock.Unlock()

	if arrived != nil {
		close(arrived)
	}
	if gate != nil {
		<-gate
	}
	if failed {
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	writeJson := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	switch op {
	case "login":
		writeJson(http.StatusOK, &AuthLoginResult{
			Message: "Login successful",
			Token:   makeToken("u1", "amber"),
			User: &StoredUser{
				Id:       "u1",
				Username: "amber",
			},
		})
	case "like", "unlike":
		viewerId := Id(parts[1])
		post := self.findPost(Id(parts[3]))
		if post == nil {
			http.Error(w, "Post not found", http.StatusNotFound)
			return
		}
		post.Likes = setMembership(post.Likes, viewerId, op == "like")
		writeJson(http.StatusOK, post)
	case "comment":
		post := self.findPost(Id(parts[3]))
		if post == nil {
			http.Error(w, "Post not found", http.StatusNotFound)
			return
		}
		var args CommentOnPostArgs
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &args)
		self.nextCommentId += 1
		post.Comments = append(post.Comments, &Comment{
			Id:       Id(fmt.Sprintf("c%d", self.nextCommentId)),
			Username: args.Username,
			Text:     args.Text,
		})
		writeJson(http.StatusCreated, post)
	case "update":
		post := self.findPost(Id(parts[3]))
		if post == nil {
			http.Error(w, "Post not found", http.StatusNotFound)
			return
		}
		var args UpdatePostArgs
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &args)
		post.Description = args.Description
		writeJson(http.StatusOK, &UpdatePostResult{
			Message:     "Post updated successfully",
			Description: args.Description,
		})
	case "delete":
		postId := Id(parts[3])
		next := []*Post{}
		for _, post := range self.posts {
			if post.Id != postId {
				next = append(next, post)
			}
		}
		self.posts = next
		writeJson(http.StatusOK, &MessageResult{Message: "Post deleted successfully"})
	case "follow":
		viewerId := Id(parts[1])
		var args FollowUserArgs
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &args)
		if target, ok := self.users[args.FollowId]; ok {
			target.Followers = setMembership(target.Followers, viewerId, true)
		}
		if viewer, ok := self.users[viewerId]; ok {
			viewer.Following = setMembership(viewer.Following, args.FollowId, true)
		}
		writeJson(http.StatusOK, &MessageResult{Message: "followed"})
	case "unfollow":
		viewerId := Id(parts[1])
		var args UnfollowUserArgs
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &args)
		if target, ok := self.users[args.UnfollowId]; ok {
			target.Followers = setMembership(target.Followers, viewerId, false)
		}
		if viewer, ok := self.users[viewerId]; ok {
			viewer.Following = setMembership(viewer.Following, args.UnfollowId, false)
		}
		writeJson(http.StatusOK, &MessageResult{Message: "unfollowed"})
	case "create":
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		post := &Post{
			Id:          Id(fmt.Sprintf("p%d", len(self.posts)+1)),
			User:        UserRef{Id: Id(parts[1])},
			Description: r.FormValue("description"),
			Mentions:    r.MultipartForm.Value["mentions[]"],
			Likes:       []Id{},
			Comments:    []*Comment{},
		}
		if lat := r.FormValue("location[lat]"); lat != "" {
			latValue, _ := strconv.ParseFloat(lat, 64)
			lngValue, _ := strconv.ParseFloat(r.FormValue("location[lng]"), 64)
			post.Location = &Location{Lat: latValue, Lng: lngValue}
		}
		if _, header, err := r.FormFile("media"); err == nil {
			post.Media = header.Filename
		}
		self.posts = append(self.posts, post)
		writeJson(http.StatusCreated, post)
	case "search":
		writeJson(http.StatusOK, self.results)
	case "feed":
		writeJson(http.StatusOK, self.posts)
	case "user":
		user, ok := self.users[Id(parts[1])]
		if !ok {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		userJson := user.Clone()
		userJson.PostsData = []*Post{}
		for _, post := range self.posts {
			if post.OwnerId() == user.Id {
				userJson.PostsData = append(userJson.PostsData, post.Clone())
			}
		}
		writeJson(http.StatusOK, userJson)
	default:
		http.Error(w, "unknown route", http.StatusNotFound)
	}
}
