package usersync

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/and161185/jwt-auth/internal/errs"
	"github.com/and161185/jwt-auth/internal/model"
	"github.com/and161185/jwt-auth/internal/repository"
)

// fakeStore is an in-memory IdentityStore honoring Filter semantics.
type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	users    []model.Identity
	profiles map[int64]map[string]string

	finds     []repository.Filter
	mutations []string
	failOn    map[string]error // username -> Create/Update error
}

var _ repository.IdentityStore = (*fakeStore)(nil)

func newFakeStore(us ...model.Identity) *fakeStore {
	s := &fakeStore{nextID: 100, profiles: map[int64]map[string]string{}, failOn: map[string]error{}}
	for _, u := range us {
		if u.MnetHostID == 0 {
			u.MnetHostID = 1
		}
		s.users = append(s.users, u)
	}
	return s
}

func match(f repository.Filter, u model.Identity) bool {
	switch {
	case !f.IncludeDeleted && u.Deleted:
		return false
	case f.Auth != "" && u.Auth != f.Auth:
		return false
	case f.ExcludeAuth != "" && u.Auth == f.ExcludeAuth:
		return false
	case f.Idnumber != "" && u.Idnumber != f.Idnumber:
		return false
	case f.Idnumbers != nil && !slices.Contains(f.Idnumbers, u.Idnumber):
		return false
	case f.Username != "" && u.Username != f.Username:
		return false
	case f.Suspended != nil && u.Suspended != *f.Suspended:
		return false
	case f.MnetHostID != 0 && u.MnetHostID != f.MnetHostID:
		return false
	}
	return true
}

func (s *fakeStore) Find(_ context.Context, f repository.Filter) ([]model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds = append(s.finds, f)
	var out []model.Identity
	for _, u := range s.users {
		if match(f, u) {
			out = append(out, u)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, f repository.Filter) (*model.Identity, error) {
	f.Limit = 1
	us, _ := s.Find(ctx, f)
	if len(us) == 0 {
		return nil, errs.ErrNotFound
	}
	return &us[0], nil
}

func (s *fakeStore) ListUsernames(ctx context.Context, f repository.Filter) ([]string, error) {
	us, _ := s.Find(ctx, f)
	out := make([]string, len(us))
	for i, u := range us {
		out[i] = u.Username
	}
	return out, nil
}

func (s *fakeStore) Create(_ context.Context, u *model.Identity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[u.Username]; err != nil {
		return 0, err
	}
	for _, x := range s.users {
		if x.Username == u.Username && x.MnetHostID == u.MnetHostID {
			return 0, errs.ErrAlreadyExists
		}
	}
	s.nextID++
	c := *u
	c.ID = s.nextID
	s.users = append(s.users, c)
	s.mutations = append(s.mutations, "create:"+c.Username)
	return c.ID, nil
}

func (s *fakeStore) at(id int64) *model.Identity {
	for i := range s.users {
		if s.users[i].ID == id {
			return &s.users[i]
		}
	}
	return nil
}

func (s *fakeStore) Update(_ context.Context, u *model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn[u.Username]; err != nil {
		return err
	}
	cur := s.at(u.ID)
	if cur == nil {
		return errs.ErrNotFound
	}
	*cur = *u
	s.mutations = append(s.mutations, "update:"+u.Username)
	return nil
}

func (s *fakeStore) SetSuspended(_ context.Context, id int64, suspended bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.at(id)
	if cur == nil {
		return errs.ErrNotFound
	}
	cur.Suspended = suspended
	if suspended {
		s.mutations = append(s.mutations, "suspend:"+cur.Username)
	} else {
		s.mutations = append(s.mutations, "revive:"+cur.Username)
	}
	return nil
}

func (s *fakeStore) UpdatePassword(_ context.Context, id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.at(id)
	if cur == nil {
		return errs.ErrNotFound
	}
	cur.Password = hash
	s.mutations = append(s.mutations, "password:"+cur.Username)
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range s.users {
		if u.ID == id {
			s.users = append(s.users[:i], s.users[i+1:]...)
			delete(s.profiles, id)
			s.mutations = append(s.mutations, "delete:"+u.Username)
			return nil
		}
	}
	return errs.ErrNotFound
}

func (s *fakeStore) ProfileFields(_ context.Context, id int64) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for k, v := range s.profiles[id] {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) SaveProfileFields(_ context.Context, id int64, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profiles[id] == nil {
		s.profiles[id] = map[string]string{}
	}
	for k, v := range fields {
		s.profiles[id][k] = v
	}
	return nil
}

func (s *fakeStore) byUsername(name string) *model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.users {
		if s.users[i].Username == name {
			c := s.users[i]
			return &c
		}
	}
	return nil
}

// fakeDirectory serves a fixed identity list and per-idnumber attributes.
type fakeDirectory struct {
	list     map[string]string
	attrs    map[string]map[string]string
	listErr  error
	fetchErr map[string]error
	fetched  []string
}

func (d *fakeDirectory) ListIdentities(context.Context) (map[string]string, error) {
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make(map[string]string, len(d.list))
	for k, v := range d.list {
		out[k] = v
	}
	return out, nil
}

func (d *fakeDirectory) FetchAttributes(_ context.Context, idnumber string) (map[string]string, error) {
	d.fetched = append(d.fetched, idnumber)
	if err := d.fetchErr[idnumber]; err != nil {
		return nil, err
	}
	out := map[string]string{}
	for k, v := range d.attrs[idnumber] {
		out[k] = v
	}
	return out, nil
}
