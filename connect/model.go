package connect

import (
	"bytes"
	"encoding/json"

	"golang.org/x/exp/slices"
)

// entities mirror the wire format of the user service

type User struct {
	Id             Id      `json:"_id"`
	Name           string  `json:"name,omitempty"`
	Username       string  `json:"username"`
	Email          string  `json:"email,omitempty"`
	ProfilePicture string  `json:"profilePicture,omitempty"`
	Bio            string  `json:"bio,omitempty"`
	Followers      []Id    `json:"followers"`
	Following      []Id    `json:"following"`
	PostIds        []Id    `json:"posts,omitempty"`
	PostsData      []*Post `json:"postsData,omitempty"`
}

func (self *User) Clone() *User {
	if self == nil {
		return nil
	}
	next := *self
	next.Followers = slices.Clone(self.Followers)
	next.Following = slices.Clone(self.Following)
	next.PostIds = slices.Clone(self.PostIds)
	next.PostsData = make([]*Post, len(self.PostsData))
	for i, post := range self.PostsData {
		next.PostsData[i] = post.Clone()
	}
	return &next
}

func (self *User) HasFollower(userId Id) bool {
	return slices.Contains(self.Followers, userId)
}

type Post struct {
	Id          Id         `json:"_id"`
	User        UserRef    `json:"user"`
	Description string     `json:"description"`
	Media       string     `json:"media,omitempty"`
	Mentions    []string   `json:"mentions,omitempty"`
	Likes       []Id       `json:"likes"`
	Comments    []*Comment `json:"comments"`
	Location    *Location  `json:"location,omitempty"`
	CreatedAt   string     `json:"created_at,omitempty"`
	UpdatedAt   string     `json:"updated_at,omitempty"`
}

func (self *Post) Clone() *Post {
	if self == nil {
		return nil
	}
	next := *self
	next.Mentions = slices.Clone(self.Mentions)
	next.Likes = slices.Clone(self.Likes)
	next.Comments = make([]*Comment, len(self.Comments))
	for i, comment := range self.Comments {
		commentCopy := *comment
		next.Comments[i] = &commentCopy
	}
	if self.Location != nil {
		locationCopy := *self.Location
		next.Location = &locationCopy
	}
	return &next
}

func (self *Post) LikedBy(userId Id) bool {
	return slices.Contains(self.Likes, userId)
}

// owning user identifier, normalized to the bare representation
func (self *Post) OwnerId() Id {
	return self.User.Id
}

// immutable once created. The id is a client placeholder until the server
// responds with the canonical record.
type Comment struct {
	Id       Id     `json:"_id,omitempty"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// derived, non-authoritative projection. Replaced wholesale on every
// successful search query.
type UserSearchResult struct {
	Id             Id     `json:"_id"`
	Username       string `json:"username"`
	Email          string `json:"email,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	PostCount      int    `json:"postCount"`
	FollowerCount  int    `json:"followerCount"`
}

// the post owner arrives in two shapes: a bare id string, or an embedded user
// snapshot. Both normalize to a bare `Id` here, at the store boundary, so no
// comparison downstream ever shape-sniffs.
type UserRef struct {
	Id   Id
	User *User
}

func (self UserRef) MarshalJSON() ([]byte, error) {
	if self.User != nil {
		return json.Marshal(self.User)
	}
	return json.Marshal(string(self.Id))
}

func (self *UserRef) UnmarshalJSON(src []byte) error {
	src = bytes.TrimSpace(src)
	if len(src) == 0 || bytes.Equal(src, []byte("null")) {
		return nil
	}
	if src[0] == '"' {
		var idStr string
		if err := json.Unmarshal(src, &idStr); err != nil {
			return err
		}
		self.Id = NormalizeId(idStr)
		self.User = nil
		return nil
	}
	var user User
	if err := json.Unmarshal(src, &user); err != nil {
		return err
	}
	self.User = &user
	self.Id = NormalizeId(string(user.Id))
	return nil
}
