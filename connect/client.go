package connect

import (
	"context"
)

// aggregates the session, api, store, reconciliation loop, mutation engine
// and search flow for one client session
type Client struct {
	Session    *Session
	Api        *ConnectApi
	Store      *RelationStore
	Reconciler *Reconciler
	Engine     *Engine
	Search     *SearchController
}

func NewClientWithDefaults(apiUrl string) *Client {
	return NewClient(context.Background(), apiUrl, DefaultDebouncerSettings())
}

func NewClient(ctx context.Context, apiUrl string, searchSettings *DebouncerSettings) *Client {
	session := NewSession()
	api := NewConnectApiWithContext(ctx, apiUrl, session)
	store := NewRelationStore()
	reconciler := NewReconciler(session, api, store)
	engine := NewEngine(session, api, store, reconciler)
	search := NewSearchController(api, store, searchSettings)

	return &Client{
		Session:    session,
		Api:        api,
		Store:      store,
		Reconciler: reconciler,
		Engine:     engine,
		Search:     search,
	}
}

// log in against the auth service and adopt the returned credential as the
// session identity
func (self *Client) Login(email string, password string) (*AuthLoginResult, error) {
	result, err := self.Api.AuthLoginSync(&AuthLoginArgs{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}
	self.Session.SetToken(result.Token)
	if result.User != nil {
		self.Session.SetStoredUser(result.User)
	}
	return result, nil
}

func (self *Client) Close() {
	self.Search.Stop()
	self.Api.Close()
	self.Store.Reset()
}
