package session

import (
	"sort"

	"github.com/omnivibe/wavelink/pkg/protocol"
)

// presenceSet is the locally known set of online peers, mutated only by
// the session's own event handling. A peer appears at most once.
type presenceSet struct {
	users map[string]protocol.User
}

func newPresenceSet() *presenceSet {
	return &presenceSet{users: make(map[string]protocol.User)}
}

// replaceAll installs a full presence snapshot, discarding prior state.
func (p *presenceSet) replaceAll(users []protocol.User) {
	p.users = make(map[string]protocol.User, len(users))
	for _, u := range users {
		p.users[u.UserID] = u
	}
}

// add records a peer coming online. Re-adding an existing peer updates
// its record rather than duplicating it.
func (p *presenceSet) add(u protocol.User) {
	p.users[u.UserID] = u
}

// remove drops every record with the given user ID.
func (p *presenceSet) remove(userID string) {
	delete(p.users, userID)
}

func (p *presenceSet) contains(userID string) bool {
	_, ok := p.users[userID]
	return ok
}

// list returns the online peers sorted by user ID for a stable view.
func (p *presenceSet) list() []protocol.User {
	out := make([]protocol.User, 0, len(p.users))
	for _, u := range p.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (p *presenceSet) clear() {
	p.users = make(map[string]protocol.User)
}
