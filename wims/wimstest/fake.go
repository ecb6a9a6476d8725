// Package wimstest provides an in-memory WIMS server for tests.
package wimstest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	. "github.com/russross/wimslti/types"
	"github.com/russross/wimslti/wims"
)

// Fake implements wims.Client over maps. Set Fail to make a job fail.
type Fake struct {
	mu         sync.Mutex
	nextClass  int
	classes    map[string]*wims.Class
	users      map[string]map[string]*wims.User
	activities map[string]map[ActivityKind]map[int]*wims.Activity
	scores     map[string]map[ActivityKind]map[int][]*wims.Score

	Info  wims.ServerInfo
	Fail  map[string]error
	Calls []string
}

var _ wims.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		nextClass:  9001,
		classes:    make(map[string]*wims.Class),
		users:      make(map[string]map[string]*wims.User),
		activities: make(map[string]map[ActivityKind]map[int]*wims.Activity),
		scores:     make(map[string]map[ActivityKind]map[int][]*wims.Score),
		Fail:       make(map[string]error),
	}
}

func (f *Fake) enter(job string) error {
	f.Calls = append(f.Calls, job)
	return f.Fail[job]
}

func notExisting(job, what string) error {
	return &wims.APIError{Job: job, Message: what + " not existing"}
}

// CallCount reports how many times job ran.
func (f *Fake) CallCount(job string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == job {
			n++
		}
	}
	return n
}

// PutClass stores a class directly, bypassing addclass.
func (f *Fake) PutClass(class *wims.Class) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classes[class.QClass] = class
	if f.users[class.QClass] == nil {
		f.users[class.QClass] = make(map[string]*wims.User)
	}
}

// DropClass simulates a class purged on the server.
func (f *Fake) DropClass(qclass string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.classes, qclass)
	delete(f.users, qclass)
}

// PutUser stores a user directly, bypassing adduser.
func (f *Fake) PutUser(qclass string, user *wims.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.users[qclass] == nil {
		f.users[qclass] = make(map[string]*wims.User)
	}
	f.users[qclass][user.QUser] = user
}

func (f *Fake) HasUser(qclass, quser string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.users[qclass][quser]
	return ok
}

func (f *Fake) PutActivity(qclass string, a *wims.Activity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activities[qclass] == nil {
		f.activities[qclass] = make(map[ActivityKind]map[int]*wims.Activity)
	}
	if f.activities[qclass][a.Kind] == nil {
		f.activities[qclass][a.Kind] = make(map[int]*wims.Activity)
	}
	f.activities[qclass][a.Kind][a.ID] = a
}

func (f *Fake) PutScores(qclass string, kind ActivityKind, id int, scores ...*wims.Score) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scores[qclass] == nil {
		f.scores[qclass] = make(map[ActivityKind]map[int][]*wims.Score)
	}
	if f.scores[qclass][kind] == nil {
		f.scores[qclass][kind] = make(map[int][]*wims.Score)
	}
	f.scores[qclass][kind][id] = scores
}

func (f *Fake) CheckIdent(ctx context.Context) (*wims.ServerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("checkident"); err != nil {
		return nil, err
	}
	info := f.Info
	if err := info.Supported(); err != nil {
		return nil, err
	}
	return &info, nil
}

func (f *Fake) GetClass(ctx context.Context, qclass, rclass string) (*wims.Class, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("getclass"); err != nil {
		return nil, err
	}
	class, ok := f.classes[qclass]
	if !ok {
		return nil, notExisting("getclass", "class "+qclass)
	}
	dup := *class
	return &dup, nil
}

func (f *Fake) AddClass(ctx context.Context, rclass string, class *wims.Class, supervisor *wims.User) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("addclass"); err != nil {
		return "", err
	}
	qclass := strconv.Itoa(f.nextClass)
	f.nextClass++
	stored := *class
	stored.QClass = qclass
	f.classes[qclass] = &stored
	sup := *supervisor
	f.users[qclass] = map[string]*wims.User{sup.QUser: &sup}
	return qclass, nil
}

func (f *Fake) GetUser(ctx context.Context, qclass, rclass, quser string) (*wims.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("getuser"); err != nil {
		return nil, err
	}
	user, ok := f.users[qclass][quser]
	if !ok {
		return nil, notExisting("getuser", "user "+quser)
	}
	dup := *user
	return &dup, nil
}

func (f *Fake) AddUser(ctx context.Context, qclass, rclass string, user *wims.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("adduser"); err != nil {
		return err
	}
	if _, ok := f.classes[qclass]; !ok {
		return notExisting("adduser", "class "+qclass)
	}
	if _, ok := f.users[qclass][user.QUser]; ok {
		return &wims.APIError{Job: "adduser", Message: "user already exists : " + user.QUser}
	}
	stored := *user
	f.users[qclass][user.QUser] = &stored
	return nil
}

func (f *Fake) GetActivity(ctx context.Context, qclass, rclass string, kind ActivityKind, id int) (*wims.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("get" + string(kind)); err != nil {
		return nil, err
	}
	a, ok := f.activities[qclass][kind][id]
	if !ok {
		return nil, notExisting("get"+string(kind), fmt.Sprintf("%s %d", kind, id))
	}
	dup := *a
	return &dup, nil
}

func (f *Fake) ListActivities(ctx context.Context, qclass, rclass string, kind ActivityKind) ([]*wims.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("list" + string(kind) + "s"); err != nil {
		return nil, err
	}
	var list []*wims.Activity
	for id := 1; len(list) < len(f.activities[qclass][kind]); id++ {
		if a, ok := f.activities[qclass][kind][id]; ok {
			dup := *a
			list = append(list, &dup)
		}
	}
	return list, nil
}

func (f *Fake) GetScores(ctx context.Context, qclass, rclass string, kind ActivityKind, id int) ([]*wims.Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := "get" + string(kind) + "scores"
	if err := f.enter(job); err != nil {
		return nil, err
	}
	if len(f.users[qclass]) <= 1 {
		// only the supervisor
		return nil, &wims.APIError{Job: job, Message: "There is no user in this class"}
	}
	return f.scores[qclass][kind][id], nil
}

func (f *Fake) AuthUser(ctx context.Context, qclass, rclass, quser string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("authuser"); err != nil {
		return "", err
	}
	if _, ok := f.users[qclass][quser]; !ok {
		return "", notExisting("authuser", "user "+quser)
	}
	return fmt.Sprintf("https://wims.test/wims.cgi?session=%s.%s", qclass, quser), nil
}
