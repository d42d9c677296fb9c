// directory.go — каталог ролей realm поверх Admin REST API.
// Переводит RoleRepresentation в model.DirectoryRole и обратно.
package keycloak

import (
	"context"
	"errors"
	"fmt"

	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
)

// Directory — каталог realm-ролей и назначений ролей пользователям.
type Directory struct {
	client *Client
}

// NewDirectory создаёт каталог поверх клиента Keycloak.
func NewDirectory(client *Client) *Directory {
	return &Directory{client: client}
}

// GetRole возвращает роль каталога по имени.
// Отсутствие роли — (nil, nil).
func (d *Directory) GetRole(ctx context.Context, name string) (*model.DirectoryRole, error) {
	rep, err := d.client.GetRealmRole(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toDirectoryRole(rep), nil
}

// AddRole создаёт роль с описанием и атрибутами одним запросом.
// Keycloak не возвращает тело при создании, поэтому ID заполняется
// повторным чтением.
func (d *Directory) AddRole(ctx context.Context, role *model.DirectoryRole) error {
	if err := d.client.CreateRealmRole(ctx, fromDirectoryRole(role)); err != nil {
		return err
	}

	created, err := d.client.GetRealmRole(ctx, role.Name)
	if err != nil {
		return fmt.Errorf("чтение созданной роли %q: %w", role.Name, err)
	}
	role.ID = created.ID
	return nil
}

// UpdateRole заменяет описание и атрибуты роли.
func (d *Directory) UpdateRole(ctx context.Context, role *model.DirectoryRole) error {
	return d.client.UpdateRealmRole(ctx, role.Name, fromDirectoryRole(role))
}

// DefaultRoles возвращает роли, входящие в default-roles realm.
// Realm без default-роли — пустой список.
func (d *Directory) DefaultRoles(ctx context.Context) ([]*model.DirectoryRole, error) {
	realm, err := d.client.RealmInfo(ctx)
	if err != nil {
		return nil, err
	}
	if realm.DefaultRole == nil || realm.DefaultRole.ID == "" {
		return nil, nil
	}

	reps, err := d.client.RoleComposites(ctx, realm.DefaultRole.ID)
	if err != nil {
		return nil, err
	}
	return toDirectoryRoles(reps), nil
}

// UserRoles возвращает realm-роли, назначенные пользователю напрямую.
func (d *Directory) UserRoles(ctx context.Context, userID string) ([]*model.DirectoryRole, error) {
	reps, err := d.client.UserRealmRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toDirectoryRoles(reps), nil
}

// Grant назначает пользователю роли каталога.
func (d *Directory) Grant(ctx context.Context, userID string, roles ...*model.DirectoryRole) error {
	if len(roles) == 0 {
		return nil
	}
	return d.client.AddUserRealmRoles(ctx, userID, mappingRefs(roles))
}

// Revoke снимает с пользователя роли каталога.
func (d *Directory) Revoke(ctx context.Context, userID string, roles ...*model.DirectoryRole) error {
	if len(roles) == 0 {
		return nil
	}
	return d.client.RemoveUserRealmRoles(ctx, userID, mappingRefs(roles))
}

func toDirectoryRole(rep *RoleRepresentation) *model.DirectoryRole {
	attrs := rep.Attributes
	if attrs == nil {
		attrs = map[string][]string{}
	}
	return &model.DirectoryRole{
		ID:          rep.ID,
		Name:        rep.Name,
		Description: rep.Description,
		Composite:   rep.Composite,
		Attributes:  attrs,
	}
}

func toDirectoryRoles(reps []RoleRepresentation) []*model.DirectoryRole {
	roles := make([]*model.DirectoryRole, 0, len(reps))
	for i := range reps {
		roles = append(roles, toDirectoryRole(&reps[i]))
	}
	return roles
}

func fromDirectoryRole(role *model.DirectoryRole) *RoleRepresentation {
	attrs := role.Attributes
	if attrs == nil {
		attrs = map[string][]string{}
	}
	return &RoleRepresentation{
		ID:          role.ID,
		Name:        role.Name,
		Description: role.Description,
		Composite:   role.Composite,
		Attributes:  attrs,
	}
}

// mappingRefs — ссылки на роли для role-mappings (id и name обязательны).
func mappingRefs(roles []*model.DirectoryRole) []RoleRepresentation {
	refs := make([]RoleRepresentation, 0, len(roles))
	for _, r := range roles {
		refs = append(refs, RoleRepresentation{ID: r.ID, Name: r.Name})
	}
	return refs
}
