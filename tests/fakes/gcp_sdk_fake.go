package fakes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// FakeGCPSecretManagerClient is an in-memory implementation of the Secret
// Manager operations used by the gcp.secretmanager backend
type FakeGCPSecretManagerClient struct {
	mu sync.RWMutex
	// Secrets maps full resource names (projects/X/secrets/Y) to their metadata
	Secrets map[string]*secretmanagerpb.Secret
	// Versions maps version resource names (projects/X/secrets/Y/versions/N) to their payload
	Versions map[string]*GCPSecretVersionData
	// Errors maps resource names to errors to return
	Errors map[string]error
	// GetSecretErr is returned by GetSecret when set
	GetSecretErr error
	// Closed reports whether Close was called
	Closed bool
}

// GCPSecretVersionData holds version-specific data for a GCP secret
type GCPSecretVersionData struct {
	State      secretmanagerpb.SecretVersion_State
	CreateTime *timestamppb.Timestamp
	Data       []byte
}

// NewFakeGCPSecretManagerClient creates a new fake Secret Manager client
func NewFakeGCPSecretManagerClient() *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{
		Secrets:  make(map[string]*secretmanagerpb.Secret),
		Versions: make(map[string]*GCPSecretVersionData),
		Errors:   make(map[string]error),
	}
}

// AddSecretVersion appends a new enabled version and returns its number
func (f *FakeGCPSecretManagerClient) AddSecretVersion(projectID, secretName string, value []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	secretFullName := fmt.Sprintf("projects/%s/secrets/%s", projectID, secretName)
	if _, exists := f.Secrets[secretFullName]; !exists {
		f.Secrets[secretFullName] = &secretmanagerpb.Secret{
			Name:       secretFullName,
			CreateTime: timestamppb.New(time.Now()),
		}
	}

	version := strconv.Itoa(f.latestLocked(secretFullName) + 1)
	f.Versions[secretFullName+"/versions/"+version] = &GCPSecretVersionData{
		State:      secretmanagerpb.SecretVersion_ENABLED,
		CreateTime: timestamppb.New(time.Now()),
		Data:       append([]byte(nil), value...),
	}
	return version
}

// AddSecretString adds a string secret as a new version
func (f *FakeGCPSecretManagerClient) AddSecretString(projectID, secretName, value string) string {
	return f.AddSecretVersion(projectID, secretName, []byte(value))
}

// DisableVersion marks a version as disabled
func (f *FakeGCPSecretManagerClient) DisableVersion(versionName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.Versions[versionName]; ok {
		v.State = secretmanagerpb.SecretVersion_DISABLED
	}
}

// AddError configures the fake to return an error for a specific resource
func (f *FakeGCPSecretManagerClient) AddError(resourceName string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[resourceName] = err
}

// AccessSecretVersion fakes the AccessSecretVersion operation, resolving the
// "latest" alias to the highest version number
func (f *FakeGCPSecretManagerClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if err, exists := f.Errors[req.GetName()]; exists {
		return nil, err
	}

	name := req.GetName()
	if secretName, ok := strings.CutSuffix(name, "/versions/latest"); ok {
		latest := f.latestLocked(secretName)
		if latest == 0 {
			return nil, status.Errorf(codes.NotFound, "Secret [%s] not found or has no versions.", secretName)
		}
		name = fmt.Sprintf("%s/versions/%d", secretName, latest)
	}

	version, exists := f.Versions[name]
	if !exists {
		return nil, status.Errorf(codes.NotFound, "Secret Version [%s] not found.", name)
	}
	if version.State != secretmanagerpb.SecretVersion_ENABLED {
		return nil, status.Errorf(codes.FailedPrecondition, "Secret Version [%s] is in DISABLED state.", name)
	}

	return &secretmanagerpb.AccessSecretVersionResponse{
		Name: name,
		Payload: &secretmanagerpb.SecretPayload{
			Data: append([]byte(nil), version.Data...),
		},
	}, nil
}

// GetSecret fakes the GetSecret operation
func (f *FakeGCPSecretManagerClient) GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest, opts ...gax.CallOption) (*secretmanagerpb.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.GetSecretErr != nil {
		return nil, f.GetSecretErr
	}
	if err, exists := f.Errors[req.GetName()]; exists {
		return nil, err
	}

	secret, exists := f.Secrets[req.GetName()]
	if !exists {
		return nil, status.Errorf(codes.NotFound, "Secret [%s] not found.", req.GetName())
	}
	return proto.Clone(secret).(*secretmanagerpb.Secret), nil
}

// Close records that the client was closed
func (f *FakeGCPSecretManagerClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

func (f *FakeGCPSecretManagerClient) latestLocked(secretFullName string) int {
	latest := 0
	prefix := secretFullName + "/versions/"
	for name := range f.Versions {
		if n, err := strconv.Atoi(strings.TrimPrefix(name, prefix)); err == nil && strings.HasPrefix(name, prefix) && n > latest {
			latest = n
		}
	}
	return latest
}

// GCPPermissionDeniedError creates a fake GCP permission denied error
func GCPPermissionDeniedError(message string) error {
	return status.Error(codes.PermissionDenied, message)
}

// GCPUnavailableError creates a fake GCP transport failure
func GCPUnavailableError() error {
	return status.Error(codes.Unavailable, "connection error: desc = \"transport: Error while dialing\"")
}
