package gateway

import (
	"encoding/json"
	"fmt"
)

// ResourceVersion is a snapshot of gateway resources.
type ResourceVersion struct {
	ID          int    `json:"id,omitempty"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Title       string `json:"title,omitempty"`
	Comment     string `json:"comment,omitempty"`
	CreatedTime string `json:"created_time,omitempty"`
}

// ReleaseResult describes a completed release.
type ReleaseResult struct {
	ResourceVersionName  string   `json:"resource_version_name"`
	ResourceVersionTitle string   `json:"resource_version_title"`
	StageNames           []string `json:"stage_names"`
}

type createResourceVersionRequest struct {
	Version string `json:"version"`
	Title   string `json:"title,omitempty"`
	Comment string `json:"comment,omitempty"`
}

type releaseRequest struct {
	ResourceVersionName string   `json:"resource_version_name"`
	StageNames          []string `json:"stage_names"`
	Comment             string   `json:"comment,omitempty"`
}

// envelope is the response wrapper used by every management endpoint.
type envelope struct {
	Code    int             `json:"code"`
	Result  *bool           `json:"result,omitempty"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError is returned when the gateway answers with a failure envelope.
type APIError struct {
	Operation  string
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: gateway error (status %d, code %d): %s", e.Operation, e.StatusCode, e.Code, e.Message)
}

// AuthError is returned on HTTP 401/403.
type AuthError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: not authorized (status %d): %s; check app_code/app_secret", e.Operation, e.StatusCode, e.Message)
}

// NotFoundError is returned on HTTP 404, usually an unknown gateway name.
type NotFoundError struct {
	Operation string
	Gateway   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: gateway %q not found", e.Operation, e.Gateway)
}
