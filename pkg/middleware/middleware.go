package middleware

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/marketplace-settlements/pkg/response"
	"golang.org/x/time/rate"
)

// Context keys set by JWTAuth.
const (
	ClientIDKey  = "clientID"
	RoleKey      = "role"
	PartnerIDKey = "partnerID"
)

const InternalKeyHeader = "X-Internal-Key"

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.RWMutex

	// Configure limits per endpoint type
	authLimit     = rate.Limit(10.0 / 60.0)  // 10 requests per minute
	batchLimit    = rate.Limit(6.0 / 60.0)   // 6 requests per minute
	ingestLimit   = rate.Limit(600.0 / 60.0) // 600 requests per minute
	settleLimit   = rate.Limit(300.0 / 60.0) // 300 requests per minute
	ingestBurst   = 50
	defaultBurst  = 1
	settleBurst   = 10
	visitorMaxAge = 3 * time.Minute
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func limitFor(path string) (rate.Limit, int) {
	switch {
	case strings.HasPrefix(path, "/api/v1/auth"):
		return authLimit, defaultBurst
	case strings.HasPrefix(path, "/api/v1/settlements/automation/run"):
		return batchLimit, defaultBurst
	case strings.HasPrefix(path, "/api/v1/internal"):
		return ingestLimit, ingestBurst
	case strings.HasPrefix(path, "/api/v1/settlements"):
		return settleLimit, settleBurst
	default:
		return rate.Inf, defaultBurst
	}
}

func getLimiter(path, clientID string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientID + ":" + path
	v, exists := visitors[key]

	if !exists {
		limit, burst := limitFor(path)
		v = &visitor{
			limiter:  rate.NewLimiter(limit, burst),
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > visitorMaxAge {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString(ClientIDKey)
		if clientID == "" {
			clientID = c.ClientIP()
		}

		limiter := getLimiter(c.FullPath(), clientID)
		if !limiter.Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth verifies the bearer token and copies its client, role and partner
// claims into the context.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		token, err := jwt.Parse(bearerToken[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})

		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			response.Unauthorized(c, "Invalid token claims")
			c.Abort()
			return
		}

		// Ensure required claims exist
		requiredClaims := []string{"client_id", "role", "exp"}
		for _, claim := range requiredClaims {
			if _, exists := claims[claim]; !exists {
				response.Unauthorized(c, fmt.Sprintf("Missing required claim: %s", claim))
				c.Abort()
				return
			}
		}

		c.Set("claims", claims)
		if clientID, ok := claims["client_id"].(string); ok {
			c.Set(ClientIDKey, clientID)
		}
		if role, ok := claims["role"].(string); ok {
			c.Set(RoleKey, role)
		}
		if partnerID, ok := claims["partner_id"].(string); ok {
			c.Set(PartnerIDKey, partnerID)
		}

		c.Next()
	}
}

// RequireRole rejects requests whose token role is not one of roles. It must
// run after JWTAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(RoleKey)
		for _, allowed := range roles {
			if role == allowed {
				c.Next()
				return
			}
		}
		response.Forbidden(c, "Insufficient permissions")
		c.Abort()
	}
}

// InternalAuth guards the ingestion API used by the marketplace backend. The
// caller presents the shared key in X-Internal-Key.
func InternalAuth(internalKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader(InternalKeyHeader)
		if presented == "" {
			response.Unauthorized(c, "Internal key required")
			c.Abort()
			return
		}
		if internalKey == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(internalKey)) != 1 {
			response.Unauthorized(c, "Invalid internal key")
			c.Abort()
			return
		}

		c.Set(ClientIDKey, "internal")
		c.Next()
	}
}
