package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arturkryukov/artstore/federation-module/internal/domain/account"
	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
	"github.com/arturkryukov/artstore/federation-module/internal/domain/storageid"
	"github.com/arturkryukov/artstore/federation-module/internal/service"
)

const testProvider = "accounts"

// fakeProvider — провайдер в памяти со всеми возможностями.
type fakeProvider struct {
	accounts map[int64]*model.Account
	roles    map[string]*model.Role
	err      error

	// последние аргументы вызовов
	lastFirst, lastMax int
	lastSearch         string
	lastAttr           string
	lastValues         []string
	lastMask           string
	cached             []string
}

func newFakeProvider() *fakeProvider {
	acc := model.NewAccount("ivanov")
	acc.ID = 1
	email := "ivanov@example.com"
	acc.Email = &email
	return &fakeProvider{
		accounts: map[int64]*model.Account{1: acc},
		roles:    map[string]*model.Role{},
	}
}

func (f *fakeProvider) user(id string) *account.UserAdapter {
	accID, err := storageid.Decode(id)
	if err != nil {
		return nil
	}
	acc, ok := f.accounts[accID]
	if !ok {
		return nil
	}
	return account.NewUserAdapter(testProvider, acc)
}

func (f *fakeProvider) all() []*account.UserAdapter {
	var out []*account.UserAdapter
	for _, acc := range f.accounts {
		out = append(out, account.NewUserAdapter(testProvider, acc))
	}
	return out
}

func (f *fakeProvider) GetUserByID(_ context.Context, id string) (*account.UserAdapter, error) {
	return f.user(id), f.err
}

func (f *fakeProvider) GetUserByUsername(_ context.Context, username string) (*account.UserAdapter, error) {
	for _, acc := range f.accounts {
		if acc.Username == username {
			return account.NewUserAdapter(testProvider, acc), f.err
		}
	}
	return nil, f.err
}

func (f *fakeProvider) GetUserByEmail(_ context.Context, email string) (*account.UserAdapter, error) {
	for _, acc := range f.accounts {
		if acc.Email != nil && *acc.Email == email {
			return account.NewUserAdapter(testProvider, acc), f.err
		}
	}
	return nil, f.err
}

func (f *fakeProvider) AddUser(_ context.Context, username string) (*account.UserAdapter, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, acc := range f.accounts {
		if acc.Username == username {
			return nil, service.ErrConflict
		}
	}
	acc := model.NewAccount(username)
	acc.ID = int64(len(f.accounts) + 1)
	f.accounts[acc.ID] = acc
	return account.NewUserAdapter(testProvider, acc), nil
}

func (f *fakeProvider) RemoveUser(_ context.Context, id string) (bool, error) {
	u := f.user(id)
	if u == nil {
		return false, f.err
	}
	delete(f.accounts, u.Account().ID)
	return true, f.err
}

func (f *fakeProvider) UsersCount(context.Context) (int, error) { return len(f.accounts), f.err }

func (f *fakeProvider) ListUsers(_ context.Context, first, max int) ([]*account.UserAdapter, error) {
	f.lastFirst, f.lastMax = first, max
	return f.all(), f.err
}

func (f *fakeProvider) SearchUsers(_ context.Context, search string, first, max int) ([]*account.UserAdapter, error) {
	f.lastSearch, f.lastFirst, f.lastMax = search, first, max
	return f.all(), f.err
}

func (f *fakeProvider) SetAttribute(_ context.Context, id, name string, values []string) (bool, error) {
	f.lastAttr, f.lastValues = name, values
	u := f.user(id)
	if u == nil {
		return false, service.ErrNotFound
	}
	return u.SetAttributeValues(name, values), f.err
}

func (f *fakeProvider) RemoveAttribute(_ context.Context, id, name string) (bool, error) {
	f.lastAttr = name
	u := f.user(id)
	if u == nil {
		return false, service.ErrNotFound
	}
	return u.RemoveAttribute(name), f.err
}

func (f *fakeProvider) SetEnabled(_ context.Context, id string, enabled bool) error {
	u := f.user(id)
	if u == nil {
		return service.ErrNotFound
	}
	u.SetEnabled(enabled)
	return f.err
}

func (f *fakeProvider) SupportsCredential(kind string) bool { return kind == service.PasswordCredential }

func (f *fakeProvider) IsCredentialConfigured(_ context.Context, id, _ string) (bool, error) {
	u := f.user(id)
	return u != nil && u.Account().PasswordHash != nil, f.err
}

func (f *fakeProvider) ValidateCredential(_ context.Context, _, _, raw string) (bool, error) {
	return raw == "верный", f.err
}

func (f *fakeProvider) UpdateCredential(_ context.Context, id, kind, raw string) (bool, error) {
	u := f.user(id)
	if u == nil {
		return false, service.ErrNotFound
	}
	u.Account().PasswordHash = &raw
	return kind == service.PasswordCredential, f.err
}

func (f *fakeProvider) DisableCredential(_ context.Context, id, _ string) (bool, error) {
	u := f.user(id)
	if u == nil {
		return false, service.ErrNotFound
	}
	u.Account().PasswordHash = nil
	return true, f.err
}

func (f *fakeProvider) OnUserCache(_ context.Context, id string) error {
	f.cached = append(f.cached, id)
	return f.err
}

func (f *fakeProvider) ListRoles(_ context.Context, search string, first, max int) ([]*model.Role, error) {
	f.lastSearch, f.lastFirst, f.lastMax = search, first, max
	var out []*model.Role
	for _, r := range f.roles {
		out = append(out, r)
	}
	return out, f.err
}

func (f *fakeProvider) GetRole(_ context.Context, name string) (*model.Role, error) {
	return f.roles[name], f.err
}

func (f *fakeProvider) SaveRole(_ context.Context, role *model.Role) (*model.DirectoryRole, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.roles[role.Name]; ok {
		return nil, service.ErrConflict
	}
	f.roles[role.Name] = role
	attrs := map[string][]string{}
	for _, r := range role.Rights {
		attrs[r.Key] = []string{r.Value}
	}
	return &model.DirectoryRole{ID: "kc-" + role.Name, Name: role.Name, Description: role.DescriptionValue(), Attributes: attrs}, nil
}

func (f *fakeProvider) RemoveRole(_ context.Context, name string) (bool, error) {
	_, ok := f.roles[name]
	delete(f.roles, name)
	return ok, f.err
}

func (f *fakeProvider) SeedRoles(_ context.Context, mask string) (*model.RoleSeedResult, error) {
	f.lastMask = mask
	return &model.RoleSeedResult{RunID: "run-1", Total: len(f.roles), Unchanged: len(f.roles), Duration: 1500 * time.Millisecond}, f.err
}

func (f *fakeProvider) SeedRolesForUsers(ctx context.Context, mask string) (*model.RoleSeedResult, error) {
	return f.SeedRoles(ctx, mask)
}

func (f *fakeProvider) RoleMappings(_ context.Context, id string) ([]*model.DirectoryRole, error) {
	if f.user(id) == nil {
		return nil, service.ErrNotFound
	}
	return []*model.DirectoryRole{{ID: "kc-reader", Name: "reader"}}, f.err
}

func (f *fakeProvider) GrantRole(_ context.Context, id, _ string) error {
	if f.user(id) == nil {
		return service.ErrNotFound
	}
	return f.err
}

func (f *fakeProvider) RevokeRole(ctx context.Context, id, role string) error {
	return f.GrantRole(ctx, id, role)
}

// --- helpers ---

func passthrough(next http.Handler) http.Handler { return next }

func newTestRouter(caps *service.Capabilities) http.Handler {
	r := chi.NewRouter()
	h := NewAPIHandler(caps, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.Mount(r, passthrough, passthrough)
	return r
}

func newTestServer(t *testing.T) (*fakeProvider, http.Handler) {
	t.Helper()
	f := newFakeProvider()
	caps := service.NewCapabilities()
	caps.RegisterUserLookup(f)
	caps.RegisterUserRegistration(f)
	caps.RegisterUserQuery(f)
	caps.RegisterUserEditor(f)
	caps.RegisterCredentialValidator(f)
	caps.RegisterCredentialUpdater(f)
	caps.RegisterUserCacheHook(f)
	caps.RegisterRoleProvider(f)
	caps.RegisterRoleMapper(f)
	return f, newTestRouter(caps)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}](t, rec)
	return body.Error.Code
}

// --- users ---

func TestFindUsers(t *testing.T) {
	f, h := newTestServer(t)

	tests := []struct {
		name      string
		target    string
		wantCount int
	}{
		{"по username", "/api/v1/users?username=ivanov", 1},
		{"по email", "/api/v1/users?email=ivanov@example.com", 1},
		{"username не найден", "/api/v1/users?username=petrov", 0},
		{"поиск", "/api/v1/users?search=*", 1},
		{"список", "/api/v1/users", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
			}
			resp := decode[userListResponse](t, rec)
			if resp.Count != tt.wantCount || len(resp.Items) != tt.wantCount {
				t.Errorf("count = %d, items = %d, ожидается %d", resp.Count, len(resp.Items), tt.wantCount)
			}
		})
	}

	_ = do(t, h, http.MethodGet, "/api/v1/users?search=iva&first=10&max=5", "")
	if f.lastSearch != "iva" || f.lastFirst != 10 || f.lastMax != 5 {
		t.Errorf("аргументы поиска: %q %d %d", f.lastSearch, f.lastFirst, f.lastMax)
	}

	_ = do(t, h, http.MethodGet, "/api/v1/users", "")
	if f.lastFirst != -1 || f.lastMax != -1 {
		t.Errorf("границы по умолчанию: %d %d, ожидается -1 -1", f.lastFirst, f.lastMax)
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/users?max=много", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("некорректный max: статус = %d", rec.Code)
	}
}

func TestGetUser(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/v1/users/f%3Aaccounts%3A1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	body := decode[map[string]any](t, rec)
	if body["id"] != "f:accounts:1" || body["username"] != "ivanov" || body["enabled"] != true {
		t.Errorf("тело = %v", body)
	}
	attrs, ok := body["attributes"].(map[string]any)
	if !ok || attrs["email"] == nil {
		t.Errorf("атрибуты = %v", body["attributes"])
	}

	rec = do(t, h, http.MethodGet, "/api/v1/users/f:accounts:99", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "NOT_FOUND" {
		t.Errorf("нет пользователя: статус = %d", rec.Code)
	}
}

func TestUsersCount(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/v1/users/count", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	if got := decode[countResponse](t, rec); got.Count != 1 {
		t.Errorf("count = %d", got.Count)
	}
}

func TestAddRemoveUser(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/v1/users", `{"username":"petrov"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	created := decode[userResponse](t, rec)
	if created.Username != "petrov" || !created.Enabled {
		t.Errorf("создан = %+v", created)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/users", `{"username":"petrov"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("дубликат: статус = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/users", `{"username":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("битый JSON: статус = %d", rec.Code)
	}

	if rec := do(t, h, http.MethodDelete, "/api/v1/users/"+created.ID, ""); rec.Code != http.StatusNoContent {
		t.Errorf("удаление: статус = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/v1/users/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("повторное удаление: статус = %d", rec.Code)
	}
}

func TestAttributes(t *testing.T) {
	f, h := newTestServer(t)

	// "подразделение" в percent-encoding
	target := "/api/v1/users/f:accounts:1/attributes/%D0%BF%D0%BE%D0%B4%D1%80%D0%B0%D0%B7%D0%B4%D0%B5%D0%BB%D0%B5%D0%BD%D0%B8%D0%B5"
	rec := do(t, h, http.MethodPut, target, `{"values":["ИТ","склад"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	if got := decode[map[string]bool](t, rec); !got["handled"] {
		t.Error("handled = false для кастомного атрибута")
	}
	if f.lastAttr != account.AttrDepartment || len(f.lastValues) != 2 {
		t.Errorf("атрибут = %q, значения = %v", f.lastAttr, f.lastValues)
	}
	if *f.accounts[1].Department != "ИТ" {
		t.Errorf("подразделение = %q", *f.accounts[1].Department)
	}

	rec = do(t, h, http.MethodPut, "/api/v1/users/f:accounts:1/attributes/locale", `{"values":["ru"]}`)
	if got := decode[map[string]bool](t, rec); got["handled"] {
		t.Error("handled = true для атрибута каталога")
	}

	rec = do(t, h, http.MethodDelete, target, "")
	if got := decode[map[string]bool](t, rec); !got["handled"] {
		t.Error("удаление: handled = false")
	}

	rec = do(t, h, http.MethodPut, "/api/v1/users/f:accounts:1/enabled", `{"enabled":false}`)
	if rec.Code != http.StatusNoContent || f.accounts[1].Status != model.AccountStatusDeleted {
		t.Errorf("отключение: статус = %d, account = %s", rec.Code, f.accounts[1].Status)
	}
}

func TestCredentials(t *testing.T) {
	f, h := newTestServer(t)
	base := "/api/v1/users/f:accounts:1/credentials/"

	rec := do(t, h, http.MethodGet, base+"otp", "")
	if got := decode[credentialStatusResponse](t, rec); got.Supported || got.Configured {
		t.Errorf("otp: %+v", got)
	}

	rec = do(t, h, http.MethodPut, base+"password", `{"value":"верный"}`)
	if got := decode[map[string]bool](t, rec); !got["updated"] {
		t.Errorf("обновление: %d %v", rec.Code, got)
	}

	rec = do(t, h, http.MethodGet, base+"password", "")
	if got := decode[credentialStatusResponse](t, rec); !got.Supported || !got.Configured {
		t.Errorf("password: %+v", got)
	}

	for _, tt := range []struct {
		value string
		want  bool
	}{{"верный", true}, {"неверный", false}} {
		rec = do(t, h, http.MethodPost, base+"password/validate", `{"value":"`+tt.value+`"}`)
		if got := decode[map[string]bool](t, rec); got["valid"] != tt.want {
			t.Errorf("validate(%q) = %v", tt.value, got["valid"])
		}
	}

	rec = do(t, h, http.MethodDelete, base+"password", "")
	if got := decode[map[string]bool](t, rec); !got["disabled"] || f.accounts[1].PasswordHash != nil {
		t.Errorf("отключение: %v", got)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/users/f:accounts:1/cache", "")
	if rec.Code != http.StatusNoContent || len(f.cached) != 1 || f.cached[0] != "f:accounts:1" {
		t.Errorf("кэш: статус = %d, cached = %v", rec.Code, f.cached)
	}
}

func TestRoleMappings(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/v1/users/f:accounts:1/role-mappings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	roles := decode[[]directoryRoleResponse](t, rec)
	if len(roles) != 1 || roles[0].Name != "reader" || roles[0].Attributes == nil {
		t.Errorf("роли = %+v", roles)
	}

	if rec := do(t, h, http.MethodPut, "/api/v1/users/f:accounts:1/role-mappings/reader", ""); rec.Code != http.StatusNoContent {
		t.Errorf("grant: статус = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/v1/users/f:accounts:9/role-mappings/reader", ""); rec.Code != http.StatusNotFound {
		t.Errorf("revoke неизвестному: статус = %d", rec.Code)
	}
}

// --- roles ---

func TestRoles(t *testing.T) {
	f, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/v1/roles",
		`{"name":"operator","description":"Оператор","rights":[{"key":"files","value":"rw"}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d, тело: %s", rec.Code, rec.Body.String())
	}
	dr := decode[directoryRoleResponse](t, rec)
	if dr.ID != "kc-operator" || dr.Description != "Оператор" || dr.Attributes["files"][0] != "rw" {
		t.Errorf("роль каталога = %+v", dr)
	}

	if rec := do(t, h, http.MethodPost, "/api/v1/roles", `{"name":"operator"}`); rec.Code != http.StatusConflict {
		t.Errorf("дубликат: статус = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/roles/operator", "")
	if got := decode[roleResponse](t, rec); got.Name != "operator" || len(got.Rights) != 1 {
		t.Errorf("роль = %+v", got)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/roles?search=опер", "")
	if got := decode[[]roleResponse](t, rec); len(got) != 1 || f.lastSearch != "опер" {
		t.Errorf("поиск: %d, search = %q", len(got), f.lastSearch)
	}

	rec = do(t, h, http.MethodPost, "/api/v1/roles/seed", "")
	if rec.Code != http.StatusOK || f.lastMask != "" {
		t.Fatalf("seed: статус = %d, mask = %q", rec.Code, f.lastMask)
	}
	if got := decode[seedResponse](t, rec); got.RunID != "run-1" || got.Total != 1 || got.DurationMs != 1500 {
		t.Errorf("seed = %+v", got)
	}

	_ = do(t, h, http.MethodPost, "/api/v1/roles/seed-for-users", `{"mask":"опер"}`)
	if f.lastMask != "опер" {
		t.Errorf("mask = %q", f.lastMask)
	}

	if rec := do(t, h, http.MethodDelete, "/api/v1/roles/operator", ""); rec.Code != http.StatusNoContent {
		t.Errorf("удаление: статус = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/roles/operator", ""); rec.Code != http.StatusNotFound {
		t.Errorf("после удаления: статус = %d", rec.Code)
	}
}

// --- ошибки ---

func TestNotImplemented(t *testing.T) {
	h := newTestRouter(service.NewCapabilities())

	for _, tt := range []struct{ method, target, body string }{
		{http.MethodGet, "/api/v1/users/f:accounts:1", ""},
		{http.MethodGet, "/api/v1/users", ""},
		{http.MethodPost, "/api/v1/users", `{"username":"x"}`},
		{http.MethodPost, "/api/v1/roles/seed", ""},
		{http.MethodGet, "/api/v1/users/f:accounts:1/role-mappings", ""},
	} {
		rec := do(t, h, tt.method, tt.target, tt.body)
		if rec.Code != http.StatusNotImplemented || errorCode(t, rec) != "NOT_IMPLEMENTED" {
			t.Errorf("%s %s: статус = %d", tt.method, tt.target, rec.Code)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"хранилище недоступно", service.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{"каталог недоступен", service.ErrIDPUnavailable, http.StatusBadGateway},
		{"неклассифицированная", errors.New("сбой"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, h := newTestServer(t)
			f.err = tt.err
			if rec := do(t, h, http.MethodGet, "/api/v1/users/count", ""); rec.Code != tt.want {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.want)
			}
		})
	}
}
