package security

import (
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/chirino/memory-service/internal/config"
)

const (
	// ContextKeyUserID is the gin context key for the authenticated user ID.
	ContextKeyUserID = "userID"
	// ContextKeyClientID is the gin context key for the agent client ID.
	ContextKeyClientID = "clientID"
	// ContextKeyRoles is the gin context key for resolved caller roles.
	ContextKeyRoles = "roles"
	// ContextKeyIsAdmin is the gin context key for admin authorization.
	ContextKeyIsAdmin = "isAdmin"
)

const (
	RoleAdmin   = "admin"
	RoleAuditor = "auditor"
)

// Identity holds the resolved caller identity from an API key.
type Identity struct {
	ClientID string
	Roles    map[string]bool
	IsAdmin  bool
}

// TokenResolver resolves API keys to caller identities. It is initialized
// once at startup and shared by the HTTP middleware.
type TokenResolver struct {
	apiKeys      map[string]string
	adminClients map[string]bool
	testingMode  bool
}

// NewTokenResolver creates a TokenResolver from the application config.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	return &TokenResolver{
		apiKeys:      cfg.APIKeys,
		adminClients: splitCSV(cfg.AdminClients),
		testingMode:  cfg.Mode == config.ModeTesting,
	}
}

// Resolve resolves an API key (and, in testing mode only, a raw client ID
// header) into a caller Identity. Every resolved client gets the auditor
// role; clients named in cfg.AdminClients additionally get admin, which
// implies auditor.
func (r *TokenResolver) Resolve(apiKey, clientIDHeader string) (*Identity, bool) {
	var clientID string
	if key := strings.TrimSpace(apiKey); key != "" {
		if resolved, ok := r.apiKeys[key]; ok {
			clientID = resolved
		}
	}
	if clientID == "" && r.testingMode {
		clientID = strings.TrimSpace(clientIDHeader)
	}
	if clientID == "" {
		return nil, false
	}

	roles := map[string]bool{RoleAuditor: true}
	if r.adminClients[clientID] {
		roles[RoleAdmin] = true
	}
	return &Identity{ClientID: clientID, Roles: roles, IsAdmin: roles[RoleAdmin]}, true
}

// GetClientID returns the authenticated client ID from the gin context.
func GetClientID(c *gin.Context) string {
	return c.GetString(ContextKeyClientID)
}

// IsAdmin returns true if the request is from an admin.
func IsAdmin(c *gin.Context) bool {
	v, _ := c.Get(ContextKeyIsAdmin)
	b, _ := v.(bool)
	return b
}

// HasRole returns true if the caller has the given role.
func HasRole(c *gin.Context, role string) bool {
	v, ok := c.Get(ContextKeyRoles)
	if !ok {
		return false
	}
	roles, ok := v.(map[string]bool)
	if !ok {
		return false
	}
	return roles[role]
}

// EffectiveAdminRole returns the highest resolved admin-adjacent role, for
// audit logging.
func EffectiveAdminRole(c *gin.Context) string {
	switch {
	case HasRole(c, RoleAdmin):
		return RoleAdmin
	case HasRole(c, RoleAuditor):
		return RoleAuditor
	default:
		return ""
	}
}

// AuthMiddleware extracts caller identity from the X-API-Key header (and, in
// testing mode, X-Client-ID) using the given TokenResolver.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := resolver.Resolve(c.GetHeader("X-API-Key"), c.GetHeader("X-Client-ID"))
		if !ok {
			log.Info("Auth rejected: missing or unknown API key", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or unknown API key"})
			return
		}
		c.Set(ContextKeyUserID, id.ClientID)
		c.Set(ContextKeyClientID, id.ClientID)
		c.Set(ContextKeyRoles, id.Roles)
		c.Set(ContextKeyIsAdmin, id.IsAdmin)
		c.Next()
	}
}

// RequireAdminRole requires the caller to have the admin role.
func RequireAdminRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasRole(c, RoleAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func splitCSV(raw string) map[string]bool {
	result := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		result[item] = true
	}
	return result
}
