package connect

import (
	"sync"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// locally decoded identity claim. Advisory only: the server re-checks every
// mutating call, so no signature verification happens here.
type ClientJwt struct {
	UserId   Id
	Email    string
	Username string
}

// decode the payload segment of a three-segment credential without verifying
// the signature. A malformed credential is an error, never a panic; callers
// treat it the same as "no identity".
func ParseClientJwtUnverified(jwt string) (*ClientJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	clientJwt := &ClientJwt{}

	if idStr, ok := claims["id"].(string); ok {
		clientJwt.UserId = NormalizeId(idStr)
	}
	if email, ok := claims["email"].(string); ok {
		clientJwt.Email = email
	}
	if username, ok := claims["username"].(string); ok {
		clientJwt.Username = username
	}

	return clientJwt, nil
}

// snapshot of the logged-in user as persisted by older clients.
// legacy fallback path only; the credential payload is canonical.
type StoredUser struct {
	Id       Id     `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

// process-wide session context. Components depend on the accessor, never on
// ambient global storage, so tests can substitute identities freely.
type Session struct {
	stateLock sync.Mutex

	token      string
	storedUser *StoredUser
}

func NewSession() *Session {
	return &Session{}
}

func (self *Session) SetToken(token string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.token = token
}

func (self *Session) Token() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.token
}

func (self *Session) SetStoredUser(storedUser *StoredUser) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.storedUser = storedUser
}

func (self *Session) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.token = ""
	self.storedUser = nil
}

// the acting user's identifier. The credential payload is the canonical
// source; the stored user snapshot is consulted only when no credential is
// present. Decoding failure degrades to "no identity".
func (self *Session) CurrentUserId() (Id, bool) {
	self.stateLock.Lock()
	token := self.token
	storedUser := self.storedUser
	self.stateLock.Unlock()

	if token != "" {
		if clientJwt, err := ParseClientJwtUnverified(token); err == nil && !clientJwt.UserId.IsZero() {
			return clientJwt.UserId, true
		}
	}
	if storedUser != nil && !storedUser.Id.IsZero() {
		return storedUser.Id, true
	}
	return "", false
}

// display name used for optimistic comment placeholders
func (self *Session) Username() string {
	self.stateLock.Lock()
	token := self.token
	storedUser := self.storedUser
	self.stateLock.Unlock()

	if token != "" {
		if clientJwt, err := ParseClientJwtUnverified(token); err == nil && clientJwt.Username != "" {
			return clientJwt.Username
		}
	}
	if storedUser != nil {
		return storedUser.Username
	}
	return ""
}
