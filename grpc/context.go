// Package grpc carries coachauth credentials on gRPC calls. Its client interceptors
// apply the same authorization gate as coachauth.Transport does for HTTP.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/panyam/coachauth"
)

// Default metadata keys. gRPC metadata keys are lowercase.
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <access token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyRefreshToken carries the refresh token for older backends
	DefaultMetadataKeyRefreshToken = "x-refresh-token"
)

// Config holds the metadata key configuration
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization"
	MetadataKeyAuthorization string

	// MetadataKeyRefreshToken defaults to "x-refresh-token"
	MetadataKeyRefreshToken string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyRefreshToken:  DefaultMetadataKeyRefreshToken,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyRefreshToken == "" {
		c.MetadataKeyRefreshToken = DefaultMetadataKeyRefreshToken
	}
}

// CredentialsToOutgoingContext adds the bearer token and refresh token to outgoing metadata.
// A refresh token already present in the outgoing metadata is kept.
func CredentialsToOutgoingContext(ctx context.Context, pair *coachauth.CredentialPair, config *Config) context.Context {
	if pair == nil {
		return ctx
	}
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if pair.AccessToken != "" {
		md.Set(config.MetadataKeyAuthorization, "Bearer "+pair.AccessToken)
	}
	if pair.RefreshToken != "" && len(md.Get(config.MetadataKeyRefreshToken)) == 0 {
		md.Set(config.MetadataKeyRefreshToken, pair.RefreshToken)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// BearerFromIncomingContext returns the access token sent by a client, or "".
// Servers and test doubles use it to read what the interceptors attached.
func BearerFromIncomingContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(config.MetadataKeyAuthorization)
	if len(values) == 0 {
		return ""
	}
	token, found := strings.CutPrefix(values[0], "Bearer ")
	if !found {
		return ""
	}
	return token
}

// RefreshTokenFromIncomingContext returns the refresh token sent by a client, or "".
func RefreshTokenFromIncomingContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeyRefreshToken); len(values) > 0 {
		return values[0]
	}
	return ""
}
