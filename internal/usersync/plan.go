package usersync

import (
	"sort"
	"strconv"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/jwt-auth/internal/model"
)

// Action names a mutation (or skip) decided for one identity.
type Action string

const (
	ActionSuspend   Action = "suspend"
	ActionDelete    Action = "delete"
	ActionUpdate    Action = "update"
	ActionRevive    Action = "revive"
	ActionRectify   Action = "rectify"
	ActionDuplicate Action = "duplicate"
	ActionCreate    Action = "create"
)

// Collision classifies a directory entry missing from the local username set.
type Collision int

const (
	CollisionNone Collision = iota
	CollisionRevive
	CollisionDuplicate
	CollisionRectify
)

func (c Collision) String() string {
	switch c {
	case CollisionRevive:
		return "revive"
	case CollisionDuplicate:
		return "duplicate"
	case CollisionRectify:
		return "rectify"
	}
	return "none"
}

// Outcome records what happened to one identity. Err is set when the mutation failed
// and the item was skipped.
type Outcome struct {
	Action   Action
	Idnumber string
	Username string
	ID       int64
	Err      error
}

// Plan is the reconciliation worklist of a single run.
type Plan struct {
	Remove   []model.Identity
	Update   []model.Identity
	Create   []model.ExternalIdentity
	Outcomes []Outcome
}

func (p *Plan) record(o Outcome) { p.Outcomes = append(p.Outcomes, o) }

// Report summarizes a finished run. Status is 0 whenever Run returns a nil error.
type Report struct {
	RunID   uuid.UUID
	Status  int
	Fetched int
	Plan    Plan
}

// Count returns the number of successful outcomes of kind a.
func (r Report) Count(a Action) int {
	n := 0
	for _, o := range r.Plan.Outcomes {
		if o.Action == a && o.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the outcomes that carry an error.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Plan.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// missing returns directory entries whose username is not in local, ordered by idnumber.
func missing(fetched map[string]string, local map[string]struct{}) []model.ExternalIdentity {
	var out []model.ExternalIdentity
	for id, username := range fetched {
		if _, ok := local[username]; ok {
			continue
		}
		out = append(out, model.ExternalIdentity{Idnumber: id, Username: username})
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].Idnumber, out[j].Idnumber) })
	return out
}

// sortedIDs returns the idnumbers of fetched in idLess order.
func sortedIDs(fetched map[string]string) []string {
	ids := make([]string, 0, len(fetched))
	for id := range fetched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return idLess(ids[i], ids[j]) })
	return ids
}

// idLess puts integer ids first in numeric order, then the rest lexically.
func idLess(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		if ai != bi {
			return ai < bi
		}
		return a < b
	case aerr == nil:
		return true
	case berr == nil:
		return false
	}
	return a < b
}

func chunks(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
