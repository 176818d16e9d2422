package fakeuserrepo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-oidc-provider/internal/errors"
	"github.com/jrsteele09/go-oidc-provider/users"
)

var _ users.UserRepo = (*FakeUserRepo)(nil)

type FakeUserRepo struct {
	users map[string]users.User
	lock  sync.RWMutex
}

func NewFakeUserRepo(seed ...*users.User) *FakeUserRepo {
	r := &FakeUserRepo{users: make(map[string]users.User)}
	for _, u := range seed {
		_ = r.Upsert(context.Background(), u)
	}
	return r
}

func (ur *FakeUserRepo) Upsert(_ context.Context, user *users.User) error {
	if user == nil {
		return fmt.Errorf("[FakeUserRepo.Upsert] user is required")
	}
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	ur.users[user.ID] = *user
	return nil
}

func (ur *FakeUserRepo) Delete(_ context.Context, id string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	if _, ok := ur.users[id]; !ok {
		return errors.ErrUserNotFound
	}
	delete(ur.users, id)
	return nil
}

func (ur *FakeUserRepo) GetByEmail(_ context.Context, email string) (*users.User, error) {
	return ur.find(func(u *users.User) bool { return strings.EqualFold(u.Email, email) })
}

func (ur *FakeUserRepo) GetByUsername(_ context.Context, username string) (*users.User, error) {
	return ur.find(func(u *users.User) bool { return strings.EqualFold(u.Username, username) })
}

func (ur *FakeUserRepo) GetByID(_ context.Context, id string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	u, ok := ur.users[id]
	if !ok {
		return nil, errors.ErrUserNotFound
	}
	return &u, nil
}

func (ur *FakeUserRepo) List(_ context.Context, offset, limit int) ([]*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	userList := make([]*users.User, 0, len(ur.users))
	for _, v := range ur.users {
		u := v
		userList = append(userList, &u)
	}
	sort.Slice(userList, func(i, j int) bool {
		return userList[i].ID < userList[j].ID
	})
	if offset >= len(userList) {
		return []*users.User{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(userList) {
		end = len(userList)
	}
	return userList[offset:end], nil
}

func (ur *FakeUserRepo) SetBlocked(_ context.Context, id string, blocked bool) error {
	return ur.update(id, func(u *users.User) { u.Blocked = blocked })
}

func (ur *FakeUserRepo) SetLastLogin(_ context.Context, id string, at time.Time) error {
	return ur.update(id, func(u *users.User) { u.LastLogin = at })
}

func (ur *FakeUserRepo) update(id string, apply func(*users.User)) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	u, ok := ur.users[id]
	if !ok {
		return errors.ErrUserNotFound
	}
	apply(&u)
	ur.users[id] = u
	return nil
}

func (ur *FakeUserRepo) find(match func(*users.User) bool) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	for _, v := range ur.users {
		u := v
		if match(&u) {
			return &u, nil
		}
	}
	return nil, errors.ErrUserNotFound
}
