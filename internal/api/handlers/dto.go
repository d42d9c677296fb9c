// dto.go — JSON-представления ответов и запросов API.
package handlers

import (
	"github.com/arturkryukov/artstore/federation-module/internal/domain/account"
	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
)

type userResponse struct {
	ID               string              `json:"id"`
	Username         string              `json:"username"`
	FirstName        string              `json:"firstName,omitempty"`
	LastName         string              `json:"lastName,omitempty"`
	Email            string              `json:"email,omitempty"`
	Enabled          bool                `json:"enabled"`
	CreatedTimestamp int64               `json:"createdTimestamp"`
	Attributes       *account.Attributes `json:"attributes"`
}

type userListResponse struct {
	Items []userResponse `json:"items"`
	Count int            `json:"count"`
}

type countResponse struct {
	Count int `json:"count"`
}

type userCreateRequest struct {
	Username string `json:"username"`
}

type attributeValuesRequest struct {
	Values []string `json:"values"`
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

type credentialRequest struct {
	Value string `json:"value"`
}

type credentialStatusResponse struct {
	Type       string `json:"type"`
	Supported  bool   `json:"supported"`
	Configured bool   `json:"configured"`
}

type rightDTO struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type roleRequest struct {
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Rights      []rightDTO `json:"rights"`
}

type roleResponse struct {
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	Rights      []rightDTO `json:"rights"`
}

type directoryRoleResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Composite   bool                `json:"composite"`
	Attributes  map[string][]string `json:"attributes"`
}

type seedRequest struct {
	Mask string `json:"mask"`
}

type seedResponse struct {
	RunID      string `json:"runId"`
	Total      int    `json:"total"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Unchanged  int    `json:"unchanged"`
	DurationMs int64  `json:"durationMs"`
}

func mapUser(u *account.UserAdapter) userResponse {
	return userResponse{
		ID:               u.ID(),
		Username:         u.Username(),
		FirstName:        u.FirstName(),
		LastName:         u.LastName(),
		Email:            u.Email(),
		Enabled:          u.IsEnabled(),
		CreatedTimestamp: u.CreatedTimestamp(),
		Attributes:       u.Attributes(),
	}
}

func mapUsers(users []*account.UserAdapter) userListResponse {
	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, mapUser(u))
	}
	return userListResponse{Items: items, Count: len(items)}
}

func mapRole(r *model.Role) roleResponse {
	rights := make([]rightDTO, 0, len(r.Rights))
	for _, rt := range r.Rights {
		rights = append(rights, rightDTO{Key: rt.Key, Value: rt.Value})
	}
	return roleResponse{Name: r.Name, Description: r.Description, Rights: rights}
}

func mapDirectoryRole(r *model.DirectoryRole) directoryRoleResponse {
	attrs := r.Attributes
	if attrs == nil {
		attrs = map[string][]string{}
	}
	return directoryRoleResponse{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Composite:   r.Composite,
		Attributes:  attrs,
	}
}

func mapSeed(res *model.RoleSeedResult) seedResponse {
	return seedResponse{
		RunID:      res.RunID,
		Total:      res.Total,
		Created:    res.Created,
		Updated:    res.Updated,
		Unchanged:  res.Unchanged,
		DurationMs: res.Duration.Milliseconds(),
	}
}

func (req roleRequest) toModel() *model.Role {
	role := &model.Role{Name: req.Name, Description: req.Description}
	for _, rt := range req.Rights {
		role.Rights = append(role.Rights, model.Right{Key: rt.Key, Value: rt.Value})
	}
	return role
}
