package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
	"github.com/arturkryukov/artstore/federation-module/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- memStore: хранилище в памяти, реализует repository.Store и Transactor ---

type memStore struct {
	mu         sync.Mutex
	accounts   map[int64]*model.Account
	roles      map[int64]*model.Role
	links      map[int64]map[int64]bool // account → roles
	nextAccID  int64
	nextRoleID int64
	// failWith возвращается всеми операциями, если задан
	failWith error
	// afterGetByID вызывается после каждого чтения по id (вне блокировки)
	afterGetByID func()
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[int64]*model.Account),
		roles:    make(map[int64]*model.Role),
		links:    make(map[int64]map[int64]bool),
	}
}

func (m *memStore) Accounts() repository.AccountRepository { return memAccounts{m} }
func (m *memStore) Roles() repository.RoleRepository       { return memRoles{m} }

func (m *memStore) WithinTx(_ context.Context, fn func(st repository.Store) error) error {
	return fn(m)
}

func (m *memStore) Pool() repository.Store { return m }

// addAccount добавляет учётную запись напрямую (подготовка теста).
func (m *memStore) addAccount(username string, roleNames ...string) *model.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAccID++
	acc := model.NewAccount(username)
	acc.ID = m.nextAccID
	m.accounts[acc.ID] = acc
	for _, name := range roleNames {
		role := m.roleByNameLocked(name)
		if role == nil {
			m.nextRoleID++
			role = &model.Role{ID: m.nextRoleID, Name: name}
			m.roles[role.ID] = role
		}
		m.linkLocked(acc.ID, role.ID)
	}
	return cloneAccount(acc)
}

// addRole добавляет роль напрямую (подготовка теста).
func (m *memStore) addRole(role *model.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRoleID++
	role.ID = m.nextRoleID
	m.roles[role.ID] = role
}

func (m *memStore) roleByNameLocked(name string) *model.Role {
	for _, r := range m.roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}

func (m *memStore) linkLocked(accID, roleID int64) {
	if m.links[accID] == nil {
		m.links[accID] = make(map[int64]bool)
	}
	m.links[accID][roleID] = true
}

func (m *memStore) linked(accID int64, roleName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	role := m.roleByNameLocked(roleName)
	return role != nil && m.links[accID][role.ID]
}

func cloneAccount(a *model.Account) *model.Account {
	c := *a
	c.Roles = nil
	return &c
}

func page[T any](items []T, first, max int) []T {
	if first > 0 {
		if first >= len(items) {
			return nil
		}
		items = items[first:]
	}
	if max >= 0 && max < len(items) {
		items = items[:max]
	}
	return items
}

type memAccounts struct{ m *memStore }

func (r memAccounts) find(match func(*model.Account) bool) (*model.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return nil, r.m.failWith
	}
	ids := make([]int64, 0, len(r.m.accounts))
	for id := range r.m.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if match(r.m.accounts[id]) {
			return cloneAccount(r.m.accounts[id]), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memAccounts) GetByID(_ context.Context, id int64) (*model.Account, error) {
	acc, err := r.find(func(a *model.Account) bool { return a.ID == id })
	if r.m.afterGetByID != nil {
		r.m.afterGetByID()
	}
	return acc, err
}

func (r memAccounts) GetByUsername(_ context.Context, username string) (*model.Account, error) {
	return r.find(func(a *model.Account) bool { return a.Username == username })
}

func (r memAccounts) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	return r.find(func(a *model.Account) bool { return a.Email != nil && *a.Email == email })
}

func (r memAccounts) Count(_ context.Context) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return 0, r.m.failWith
	}
	return len(r.m.accounts), nil
}

func (r memAccounts) List(ctx context.Context, first, max int) ([]*model.Account, error) {
	return r.Search(ctx, repository.MatchAll, first, max)
}

func (r memAccounts) Search(_ context.Context, pattern string, first, max int) ([]*model.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return nil, r.m.failWith
	}
	needle := strings.ToLower(pattern)
	var out []*model.Account
	for _, a := range r.m.accounts {
		email := ""
		if a.Email != nil {
			email = strings.ToLower(*a.Email)
		}
		if pattern == repository.MatchAll ||
			strings.Contains(strings.ToLower(a.Username), needle) || strings.Contains(email, needle) {
			out = append(out, cloneAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return page(out, first, max), nil
}

func (r memAccounts) Create(_ context.Context, acc *model.Account) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return r.m.failWith
	}
	for _, a := range r.m.accounts {
		if a.Username == acc.Username {
			return repository.ErrConflict
		}
	}
	r.m.nextAccID++
	acc.ID = r.m.nextAccID
	r.m.accounts[acc.ID] = cloneAccount(acc)
	return nil
}

func (r memAccounts) Update(_ context.Context, acc *model.Account) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return r.m.failWith
	}
	old, ok := r.m.accounts[acc.ID]
	if !ok {
		return repository.ErrNotFound
	}
	c := cloneAccount(acc)
	c.PasswordHash = old.PasswordHash
	c.PasswordChangedAt = old.PasswordChangedAt
	r.m.accounts[acc.ID] = c
	return nil
}

func (r memAccounts) UpdatePassword(_ context.Context, id int64, hash *string, changedAt *time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return r.m.failWith
	}
	a, ok := r.m.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.PasswordHash = hash
	a.PasswordChangedAt = changedAt
	return nil
}

func (r memAccounts) Delete(_ context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return r.m.failWith
	}
	if _, ok := r.m.accounts[id]; !ok {
		return repository.ErrNotFound
	}
	if len(r.m.links[id]) > 0 {
		// account_roles без каскада: связи должны быть удалены заранее
		return repository.ErrConflict
	}
	delete(r.m.accounts, id)
	return nil
}

func (r memAccounts) ListRoles(_ context.Context, accountID int64) ([]*model.Role, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return nil, r.m.failWith
	}
	var out []*model.Role
	for roleID := range r.m.links[accountID] {
		role := *r.m.roles[roleID]
		out = append(out, &role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memAccounts) LinkRole(_ context.Context, accountID, roleID int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return r.m.failWith
	}
	r.m.linkLocked(accountID, roleID)
	return nil
}

func (r memAccounts) UnlinkRole(_ context.Context, accountID, roleID int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return r.m.failWith
	}
	delete(r.m.links[accountID], roleID)
	return nil
}

func (r memAccounts) UnlinkAllRoles(_ context.Context, accountID int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return r.m.failWith
	}
	delete(r.m.links, accountID)
	return nil
}

type memRoles struct{ m *memStore }

func (r memRoles) List(ctx context.Context, first, max int) ([]*model.Role, error) {
	return r.Search(ctx, repository.MatchAll, first, max)
}

func (r memRoles) Search(_ context.Context, pattern string, first, max int) ([]*model.Role, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return nil, r.m.failWith
	}
	needle := strings.ToLower(pattern)
	var out []*model.Role
	for _, role := range r.m.roles {
		if pattern == repository.MatchAll ||
			strings.Contains(strings.ToLower(role.Name), needle) ||
			strings.Contains(strings.ToLower(role.DescriptionValue()), needle) {
			c := *role
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, first, max), nil
}

func (r memRoles) GetByName(_ context.Context, name string) (*model.Role, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return nil, r.m.failWith
	}
	role := r.m.roleByNameLocked(name)
	if role == nil {
		return nil, repository.ErrNotFound
	}
	c := *role
	return &c, nil
}

func (r memRoles) Create(_ context.Context, role *model.Role) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return r.m.failWith
	}
	if r.m.roleByNameLocked(role.Name) != nil {
		return repository.ErrConflict
	}
	r.m.nextRoleID++
	role.ID = r.m.nextRoleID
	c := *role
	r.m.roles[role.ID] = &c
	return nil
}

func (r memRoles) Delete(_ context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return r.m.failWith
	}
	if _, ok := r.m.roles[id]; !ok {
		return repository.ErrNotFound
	}
	for _, roles := range r.m.links {
		if roles[id] {
			return repository.ErrConflict
		}
	}
	delete(r.m.roles, id)
	return nil
}

func (r memRoles) UnlinkAccounts(_ context.Context, roleID int64) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failWith != nil {
		return 0, r.m.failWith
	}
	var n int64
	for _, roles := range r.m.links {
		if roles[roleID] {
			delete(roles, roleID)
			n++
		}
	}
	return n, nil
}

// --- fakeDirectory: каталог в памяти, реализует RoleDirectory и MappingDirectory ---

type fakeDirectory struct {
	roles    map[string]*model.DirectoryRole
	mappings map[string]map[string]bool // userID → имена ролей
	defaults []*model.DirectoryRole

	adds, updates, grants, revokes int

	// concurrentCreate: AddRole имитирует параллельное создание —
	// роль появляется, но возвращается ErrConflict
	concurrentCreate bool
	// phantomConflict: AddRole возвращает ErrConflict, роль не появляется
	phantomConflict bool
	err             error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		roles:    make(map[string]*model.DirectoryRole),
		mappings: make(map[string]map[string]bool),
	}
}

func cloneDirectoryRole(r *model.DirectoryRole) *model.DirectoryRole {
	c := *r
	c.Attributes = make(map[string][]string, len(r.Attributes))
	for k, v := range r.Attributes {
		c.Attributes[k] = append([]string(nil), v...)
	}
	return &c
}

func (d *fakeDirectory) GetRole(_ context.Context, name string) (*model.DirectoryRole, error) {
	if d.err != nil {
		return nil, d.err
	}
	r, ok := d.roles[name]
	if !ok {
		return nil, nil
	}
	return cloneDirectoryRole(r), nil
}

func (d *fakeDirectory) AddRole(_ context.Context, role *model.DirectoryRole) error {
	if d.err != nil {
		return d.err
	}
	if d.phantomConflict {
		return ErrConflict
	}
	if _, ok := d.roles[role.Name]; ok {
		return ErrConflict
	}
	if d.concurrentCreate {
		d.roles[role.Name] = &model.DirectoryRole{ID: "kc-other-" + role.Name, Name: role.Name}
		return ErrConflict
	}
	d.adds++
	role.ID = "kc-" + role.Name
	d.roles[role.Name] = cloneDirectoryRole(role)
	return nil
}

func (d *fakeDirectory) UpdateRole(_ context.Context, role *model.DirectoryRole) error {
	if d.err != nil {
		return d.err
	}
	d.updates++
	d.roles[role.Name] = cloneDirectoryRole(role)
	return nil
}

func (d *fakeDirectory) DefaultRoles(_ context.Context) ([]*model.DirectoryRole, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.defaults, nil
}

func (d *fakeDirectory) UserRoles(_ context.Context, userID string) ([]*model.DirectoryRole, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []*model.DirectoryRole
	for name := range d.mappings[userID] {
		out = append(out, cloneDirectoryRole(d.roles[name]))
	}
	return out, nil
}

func (d *fakeDirectory) Grant(_ context.Context, userID string, roles ...*model.DirectoryRole) error {
	if d.err != nil {
		return d.err
	}
	if d.mappings[userID] == nil {
		d.mappings[userID] = make(map[string]bool)
	}
	for _, r := range roles {
		d.grants++
		d.mappings[userID][r.Name] = true
	}
	return nil
}

func (d *fakeDirectory) Revoke(_ context.Context, userID string, roles ...*model.DirectoryRole) error {
	if d.err != nil {
		return d.err
	}
	for _, r := range roles {
		d.revokes++
		delete(d.mappings[userID], r.Name)
	}
	return nil
}

func (d *fakeDirectory) mapped(userID, role string) bool {
	return d.mappings[userID][role]
}
