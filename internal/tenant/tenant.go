// Package tenant resolves the tenant key a request is scoped to.
//
// A tenant key selects one storage partition (a postgres schema). Any non-empty
// caller-supplied key is accepted; an absent key falls back to DefaultTenant.
// PartitionName maps keys to schema names injectively.
package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
)

const (
	DefaultTenant = "public"
	Header        = "X-Tenant-ID"
	// MetadataKey is the gRPC metadata key the order authority reads.
	MetadataKey = "x-tenant-id"

	// maxIdentifierLen is postgres' NAMEDATALEN-1; longer identifiers are truncated.
	maxIdentifierLen = 63
	// hashedPrefix marks schema names derived from a digest of the key.
	hashedPrefix = "~t"
)

type ctxKey struct{}

// Resolve returns token, or DefaultTenant when token is empty.
func Resolve(token string) string {
	if token == "" {
		return DefaultTenant
	}
	return token
}

// Middleware resolves the tenant from the request header once and stores it in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := Resolve(r.Header.Get(Header))
		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), key)))
	})
}

func WithTenant(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxKey{}, key)
}

// FromContext returns the tenant stored by Middleware, or DefaultTenant.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok && v != "" {
		return v
	}
	return DefaultTenant
}

// PartitionName returns the postgres schema name of a tenant key. Keys postgres
// would store faithfully are used as-is; any other key (too long, NUL bytes,
// invalid UTF-8, the reserved pg_ prefix, or the hashed prefix itself) becomes
// hashedPrefix plus a truncated SHA-256 digest, so distinct keys never share a schema.
func PartitionName(key string) string {
	key = Resolve(key)
	if len(key) <= maxIdentifierLen &&
		utf8.ValidString(key) &&
		!strings.ContainsRune(key, 0) &&
		!strings.HasPrefix(key, "pg_") &&
		!strings.HasPrefix(key, hashedPrefix) {
		return key
	}
	sum := sha256.Sum256([]byte(key))
	return hashedPrefix + hex.EncodeToString(sum[:])[:40]
}

// Schema returns the quoted schema identifier for a tenant key.
func Schema(key string) string {
	return pgx.Identifier{PartitionName(key)}.Sanitize()
}

// Table returns the quoted, schema-qualified name of table inside the tenant's partition.
func Table(key, table string) string {
	return pgx.Identifier{PartitionName(key), table}.Sanitize()
}
