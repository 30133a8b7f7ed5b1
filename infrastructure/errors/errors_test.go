package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestHostError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *HostError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(CategoryNotFound, "resource not found", http.StatusNotFound),
			want: "[NotFound] resource not found",
		},
		{
			name: "error with underlying error",
			err:  Wrap(CategoryInstanceCrash, "instance crashed", http.StatusInternalServerError, errors.New("exit status 1")),
			want: "[InstanceCrash] instance crashed: exit status 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHostError_Unwrap(t *testing.T) {
	underlying := errors.New("dial tcp: connection refused")
	err := Wrap(CategoryProxyFailure, "proxy configuration failed", http.StatusBadGateway, underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestHostError_WithDetails(t *testing.T) {
	err := New(CategoryValidationError, "validation failed", http.StatusBadRequest)
	err.WithDetails("field", "proxy.port").WithDetails("reason", "out of range")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "proxy.port" {
		t.Errorf("Details[field] = %v, want proxy.port", err.Details["field"])
	}
	if err.Details["reason"] != "out of range" {
		t.Errorf("Details[reason] = %v, want out of range", err.Details["reason"])
	}
}

func TestInstanceCrash(t *testing.T) {
	underlying := errors.New("signal: killed")
	err := InstanceCrash("acct-1", underlying)

	if err.Category != CategoryInstanceCrash {
		t.Errorf("Category = %v, want %v", err.Category, CategoryInstanceCrash)
	}
	if err.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusInternalServerError)
	}
	if err.Details["accountId"] != "acct-1" {
		t.Errorf("Details[accountId] = %v, want acct-1", err.Details["accountId"])
	}
	if err.Err != underlying {
		t.Errorf("Err = %v, want %v", err.Err, underlying)
	}
}

func TestUnresponsive(t *testing.T) {
	err := Unresponsive("acct-2")

	if err.Category != CategoryUnresponsive {
		t.Errorf("Category = %v, want %v", err.Category, CategoryUnresponsive)
	}
	if err.HTTPStatus != http.StatusGatewayTimeout {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusGatewayTimeout)
	}
}

func TestProxyFailure(t *testing.T) {
	underlying := errors.New("auth required")
	err := ProxyFailure("acct-3", underlying)

	if err.Category != CategoryProxyFailure {
		t.Errorf("Category = %v, want %v", err.Category, CategoryProxyFailure)
	}
	if err.HTTPStatus != http.StatusBadGateway {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusBadGateway)
	}
}

func TestPageLoadFailure(t *testing.T) {
	err := PageLoadFailure("acct-4", "ERR_CONNECTION_RESET", "the page did not load")

	if err.Category != CategoryPageLoadFailure {
		t.Errorf("Category = %v, want %v", err.Category, CategoryPageLoadFailure)
	}
	if err.Details["code"] != "ERR_CONNECTION_RESET" {
		t.Errorf("Details[code] = %v, want ERR_CONNECTION_RESET", err.Details["code"])
	}
}

func TestCrashThresholdExceeded(t *testing.T) {
	err := CrashThresholdExceeded("acct-5", 3)

	if err.Category != CategoryCrashThresholdExceeded {
		t.Errorf("Category = %v, want %v", err.Category, CategoryCrashThresholdExceeded)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
	if err.Details["crashCount"] != 3 {
		t.Errorf("Details[crashCount] = %v, want 3", err.Details["crashCount"])
	}
}

func TestValidationError(t *testing.T) {
	fields := []FieldError{
		{Field: "proxy.port", Reason: "must be between 1 and 65535"},
		{Field: "label", Reason: "required"},
	}
	err := ValidationError(fields)

	if err.Category != CategoryValidationError {
		t.Errorf("Category = %v, want %v", err.Category, CategoryValidationError)
	}
	got, ok := err.Details["errors"].([]FieldError)
	if !ok || len(got) != 2 {
		t.Errorf("Details[errors] = %v, want 2 field errors", err.Details["errors"])
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("account", "acct-6")

	if err.Category != CategoryNotFound {
		t.Errorf("Category = %v, want %v", err.Category, CategoryNotFound)
	}
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusNotFound)
	}
	if err.Details["resource"] != "account" || err.Details["id"] != "acct-6" {
		t.Errorf("Details = %v, want resource/id filled", err.Details)
	}
}

func TestDuplicateId(t *testing.T) {
	err := DuplicateId("acct-7")

	if err.Category != CategoryDuplicateId {
		t.Errorf("Category = %v, want %v", err.Category, CategoryDuplicateId)
	}
	if err.HTTPStatus != http.StatusConflict {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusConflict)
	}
}

func TestCapacity(t *testing.T) {
	err := Capacity(10)

	if err.Category != CategoryCapacity {
		t.Errorf("Category = %v, want %v", err.Category, CategoryCapacity)
	}
	if err.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusServiceUnavailable)
	}
	if err.Details["limit"] != 10 {
		t.Errorf("Details[limit] = %v, want 10", err.Details["limit"])
	}
}

func TestStoreCorrupt(t *testing.T) {
	underlying := errors.New("unexpected end of JSON input")
	err := StoreCorrupt(underlying)

	if err.Category != CategoryStoreCorrupt {
		t.Errorf("Category = %v, want %v", err.Category, CategoryStoreCorrupt)
	}
	if err.Err != underlying {
		t.Errorf("Err = %v, want %v", err.Err, underlying)
	}
}

func TestMigrationFailure(t *testing.T) {
	underlying := errors.New("unsupported schema version")
	err := MigrationFailure(underlying)

	if err.Category != CategoryMigrationFailure {
		t.Errorf("Category = %v, want %v", err.Category, CategoryMigrationFailure)
	}
	if err.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("HTTPStatus = %d, want %d", err.HTTPStatus, http.StatusInternalServerError)
	}
}

func TestIsHostError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "host error", err: New(CategoryCapacity, "test", http.StatusServiceUnavailable), want: true},
		{name: "standard error", err: errors.New("standard error"), want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsHostError(tt.err); got != tt.want {
				t.Errorf("IsHostError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetHostError(t *testing.T) {
	hostErr := New(CategoryCapacity, "test", http.StatusServiceUnavailable)
	standardErr := errors.New("standard error")

	tests := []struct {
		name string
		err  error
		want *HostError
	}{
		{name: "host error", err: hostErr, want: hostErr},
		{name: "standard error", err: standardErr, want: nil},
		{name: "nil error", err: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHostError(tt.err); got != tt.want {
				t.Errorf("GetHostError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "host error", err: New(CategoryNotFound, "test", http.StatusNotFound), want: http.StatusNotFound},
		{name: "standard error", err: errors.New("standard error"), want: http.StatusInternalServerError},
		{name: "nil error", err: nil, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHTTPStatus(tt.err); got != tt.want {
				t.Errorf("GetHTTPStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCategoryOf(t *testing.T) {
	err := New(CategoryUnresponsive, "test", http.StatusGatewayTimeout)
	if got := CategoryOf(err); got != CategoryUnresponsive {
		t.Errorf("CategoryOf() = %v, want %v", got, CategoryUnresponsive)
	}
	if got := CategoryOf(errors.New("plain")); got != Category("") {
		t.Errorf("CategoryOf() = %v, want empty", got)
	}
}
