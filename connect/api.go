package connect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultHttpTimeout = 30 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

// the fetched entity no longer exists server-side.
// surfaced to the user distinctly from generic transport failure.
var ErrNotFound = errors.New("not found")

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R], 1)
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// async client for the user and auth services
type ConnectApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	session *Session
}

func NewConnectApi(apiUrl string, session *Session) *ConnectApi {
	return NewConnectApiWithContext(context.Background(), apiUrl, session)
}

func NewConnectApiWithContext(ctx context.Context, apiUrl string, session *Session) *ConnectApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &ConnectApi{
		ctx:     cancelCtx,
		cancel:  cancel,
		apiUrl:  apiUrl,
		session: session,
	}
}

func (self *ConnectApi) Close() {
	self.cancel()
}

func (self *ConnectApi) token() string {
	if self.session == nil {
		return ""
	}
	return self.session.Token()
}

type AuthLoginCallback = apiCallback[*AuthLoginResult]

type AuthLoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginResult struct {
	Message string      `json:"message,omitempty"`
	Token   string      `json:"token"`
	User    *StoredUser `json:"user,omitempty"`
}

func (self *ConnectApi) AuthLogin(authLogin *AuthLoginArgs, callback AuthLoginCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.token(),
		&AuthLoginResult{},
		callback,
	)
}

func (self *ConnectApi) AuthLoginSync(authLogin *AuthLoginArgs) (*AuthLoginResult, error) {
	return post(
		self.ctx,
		fmt.Sprintf("%s/auth/login", self.apiUrl),
		authLogin,
		self.token(),
		&AuthLoginResult{},
		NewNoopApiCallback[*AuthLoginResult](),
	)
}

type LikePostCallback = apiCallback[*Post]

type LikePostArgs struct {
	ViewerId Id
	PostId   Id
}

func (self *ConnectApi) LikePost(likePost *LikePostArgs, callback LikePostCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/users/%s/posts/%s/like", self.apiUrl, likePost.ViewerId, likePost.PostId),
		nil,
		self.token(),
		&Post{},
		callback,
	)
}

func (self *ConnectApi) UnlikePost(unlikePost *LikePostArgs, callback LikePostCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/users/%s/posts/%s/unlike", self.apiUrl, unlikePost.ViewerId, unlikePost.PostId),
		nil,
		self.token(),
		&Post{},
		callback,
	)
}

type CommentOnPostCallback = apiCallback[*Post]

type CommentOnPostArgs struct {
	ViewerId Id
	PostId   Id

	Text     string `json:"text"`
	Username string `json:"username"`
}

func (self *ConnectApi) CommentOnPost(commentOnPost *CommentOnPostArgs, callback CommentOnPostCallback) {
	go post(
		self.ctx,
		fmt.Sprintf("%s/users/%s/posts/%s/comment", self.apiUrl, commentOnPost.ViewerId, commentOnPost.PostId),
		commentOnPost,
		self.token(),
		&Post{},
		callback,
	)
}

type MessageResult struct {
	Message string `json:"message"`
}

type DeletePostCallback = apiCallback[*MessageResult]

type DeletePostArgs struct {
	ViewerId Id
	PostId   Id
}

func (self *ConnectApi) DeletePost(deletePost *DeletePostArgs, callback DeletePostCallback) {
	go del(
		self.ctx,
		fmt.Sprintf("%s/users/%s/posts/%s/delete", self.apiUrl, deletePost.ViewerId, deletePost.PostId),
		self.token(),
		&MessageResult{},
		callback,
	)
}

type UpdatePostCallback = apiCallback[*UpdatePostResult]

type UpdatePostArgs struct {
	ViewerId Id
	PostId   Id

	Description string `json:"description"`
}

type UpdatePostResult struct {
	Message     string `json:"message"`
	Description string `json:"description"`
}

func (self *ConnectApi) UpdatePost(updatePost *UpdatePostArgs, callback UpdatePostCallback) {
	go put(
		self.ctx,
		fmt.Sprintf("%s/users/%s/posts/%s/update", self.apiUrl, updatePost.ViewerId, updatePost.PostId),
		updatePost,
		self.token(),
		&UpdatePostResult{},
		callback,
	)
}

type FollowUserCallback = apiCallback[*MessageResult]

type FollowUserArgs struct {
	ViewerId Id

	FollowId Id `json:"follow_id"`
}

func (self *ConnectApi) FollowUser(followUser *FollowUserArgs, callback FollowUserCallback) {
	go put(
		self.ctx,
		fmt.Sprintf("%s/users/%s/follow", self.apiUrl, followUser.ViewerId),
		followUser,
		self.token(),
		&MessageResult{},
		callback,
	)
}

type UnfollowUserArgs struct {
	ViewerId Id

	UnfollowId Id `json:"unfollow_id"`
}

func (self *ConnectApi) UnfollowUser(unfollowUser *UnfollowUserArgs, callback FollowUserCallback) {
	go put(
		self.ctx,
		fmt.Sprintf("%s/users/%s/unfollow", self.apiUrl, unfollowUser.ViewerId),
		unfollowUser,
		self.token(),
		&MessageResult{},
		callback,
	)
}

type SearchUsersCallback = apiCallback[[]*UserSearchResult]

type SearchUsersArgs struct {
	Query string
}

func (self *ConnectApi) SearchUsers(searchUsers *SearchUsersArgs, callback SearchUsersCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/users/search/query?q=%s", self.apiUrl, url.QueryEscape(searchUsers.Query)),
		self.token(),
		[]*UserSearchResult{},
		callback,
	)
}

func (self *ConnectApi) SearchUsersSync(searchUsers *SearchUsersArgs) ([]*UserSearchResult, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/users/search/query?q=%s", self.apiUrl, url.QueryEscape(searchUsers.Query)),
		self.token(),
		[]*UserSearchResult{},
		NewNoopApiCallback[[]*UserSearchResult](),
	)
}

type GetUserCallback = apiCallback[*User]

type GetUserArgs struct {
	UserId Id
}

func (self *ConnectApi) GetUser(getUser *GetUserArgs, callback GetUserCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/users/%s", self.apiUrl, getUser.UserId),
		self.token(),
		&User{},
		callback,
	)
}

func (self *ConnectApi) GetUserSync(getUser *GetUserArgs) (*User, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/users/%s", self.apiUrl, getUser.UserId),
		self.token(),
		&User{},
		NewNoopApiCallback[*User](),
	)
}

type GetFeedPostsCallback = apiCallback[[]*Post]

type GetFeedPostsArgs struct {
	UserId Id
}

func (self *ConnectApi) GetFeedPosts(getFeedPosts *GetFeedPostsArgs, callback GetFeedPostsCallback) {
	go get(
		self.ctx,
		fmt.Sprintf("%s/users/%s/feed/posts", self.apiUrl, getFeedPosts.UserId),
		self.token(),
		[]*Post{},
		callback,
	)
}

func (self *ConnectApi) GetFeedPostsSync(getFeedPosts *GetFeedPostsArgs) ([]*Post, error) {
	return get(
		self.ctx,
		fmt.Sprintf("%s/users/%s/feed/posts", self.apiUrl, getFeedPosts.UserId),
		self.token(),
		[]*Post{},
		NewNoopApiCallback[[]*Post](),
	)
}

type CreatePostCallback = apiCallback[*Post]

type CreatePostArgs struct {
	UserId      Id
	Description string
	Mentions    []string
	Location    *Location

	// optional media attachment
	MediaName string
	Media     []byte
}

func (self *ConnectApi) CreatePost(createPost *CreatePostArgs, callback CreatePostCallback) {
	go postMultipart(
		self.ctx,
		fmt.Sprintf("%s/users/%s/posts", self.apiUrl, createPost.UserId),
		createPost,
		self.token(),
		&Post{},
		callback,
	)
}

func (self *ConnectApi) CreatePostSync(createPost *CreatePostArgs) (*Post, error) {
	return postMultipart(
		self.ctx,
		fmt.Sprintf("%s/users/%s/posts", self.apiUrl, createPost.UserId),
		createPost,
		self.token(),
		&Post{},
		NewNoopApiCallback[*Post](),
	)
}

func post[R any](ctx context.Context, url string, args any, token string, result R, callback apiCallback[R]) (R, error) {
	return send(ctx, "POST", url, args, token, result, callback)
}

func put[R any](ctx context.Context, url string, args any, token string, result R, callback apiCallback[R]) (R, error) {
	return send(ctx, "PUT", url, args, token, result, callback)
}

func del[R any](ctx context.Context, url string, token string, result R, callback apiCallback[R]) (R, error) {
	return send(ctx, "DELETE", url, nil, token, result, callback)
}

func get[R any](ctx context.Context, url string, token string, result R, callback apiCallback[R]) (R, error) {
	return send(ctx, "GET", url, nil, token, result, callback)
}

func send[R any](ctx context.Context, method string, url string, args any, token string, result R, callback apiCallback[R]) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")

	if token != "" {
		auth := fmt.Sprintf("Bearer %s", token)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if r.StatusCode == http.StatusNotFound {
		err = fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(responseBodyBytes)))
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func postMultipart[R any](ctx context.Context, url string, createPost *CreatePostArgs, token string, result R, callback apiCallback[R]) (R, error) {
	requestBody := &bytes.Buffer{}
	writer := multipart.NewWriter(requestBody)

	var err error
	writeField := func(name string, value string) {
		if err == nil {
			err = writer.WriteField(name, value)
		}
	}

	writeField("description", createPost.Description)
	for _, mention := range createPost.Mentions {
		writeField("mentions[]", mention)
	}
	if createPost.Location != nil {
		writeField("location[lat]", strconv.FormatFloat(createPost.Location.Lat, 'f', -1, 64))
		writeField("location[lng]", strconv.FormatFloat(createPost.Location.Lng, 'f', -1, 64))
	}
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	if 0 < len(createPost.Media) {
		part, err := writer.CreateFormFile("media", createPost.MediaName)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
		if _, err := part.Write(createPost.Media); err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	if err := writer.Close(); err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, requestBody)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", writer.FormDataContentType())

	if token != "" {
		auth := fmt.Sprintf("Bearer %s", token)
		req.Header.Add("Authorization", auth)
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if r.StatusCode < 200 || 300 <= r.StatusCode {
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
