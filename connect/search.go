package connect

import (
	"strings"

	"github.com/golang/glog"
)

// wires the debounce controller to the user search query and the search
// results namespace of the relation store
type SearchController struct {
	api   *ConnectApi
	store *RelationStore

	debouncer *Debouncer[string]
}

func NewSearchControllerWithDefaults(api *ConnectApi, store *RelationStore) *SearchController {
	return NewSearchController(api, store, DefaultDebouncerSettings())
}

func NewSearchController(api *ConnectApi, store *RelationStore, settings *DebouncerSettings) *SearchController {
	self := &SearchController{
		api:   api,
		store: store,
	}
	self.debouncer = NewDebouncer[string](
		settings,
		func(query string) bool {
			return query == ""
		},
		self.search,
		self.clear,
	)
	return self
}

// record the latest raw search input. At most one effective query fires per
// quiet period; blank input clears the results instead of querying.
func (self *SearchController) SetQuery(query string) {
	self.debouncer.Schedule(strings.TrimSpace(query))
}

func (self *SearchController) search(query string, version uint64) {
	self.api.SearchUsers(&SearchUsersArgs{
		Query: query,
	}, NewApiCallback[[]*UserSearchResult](func(results []*UserSearchResult, err error) {
		if !self.debouncer.IsCurrent(version) {
			// a newer intent superseded this query while it was in flight
			glog.V(2).Infof("[search]discard stale response for %q v%d\n", query, version)
			return
		}
		if err != nil {
			self.store.SetSearchResults(nil)
			self.store.EmitNotice(NoticeLevelError, "Search failed.")
			return
		}
		self.store.SetSearchResults(results)
	}))
}

func (self *SearchController) clear(version uint64) {
	if !self.debouncer.IsCurrent(version) {
		return
	}
	self.store.ClearSearchResults()
}

func (self *SearchController) Stop() {
	self.debouncer.Stop()
}
