package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/marketplace-settlements/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid API credentials")
	ErrTokenGeneration    = errors.New("failed to generate token")
	ErrInvalidRole        = errors.New("invalid role")
)

// Roles carried in the token. Partner admins are scoped to one partner.
const (
	RolePlatformAdmin = "platform_admin"
	RolePartnerAdmin  = "partner_admin"
)

// Credentials represents the API authentication credentials
type Credentials struct {
	APIKey    string `json:"api_key" binding:"required"`
	APISecret string `json:"api_secret" binding:"required"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
	Role       string    `json:"role"`
	PartnerID  string    `json:"partner_id,omitempty"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	ClientID  string `json:"client_id"`
	Role      string `json:"role"`
	PartnerID string `json:"partner_id,omitempty"`
}

type account struct {
	secret    string
	role      string
	partnerID string
}

// Service exchanges API credentials for signed tokens
type Service struct {
	jwtSecret []byte
	expiry    time.Duration

	mu       sync.RWMutex
	accounts map[string]account // keyed by API key
}

// NewService creates a new authentication service with the given JWT secret.
// A non-positive expiry defaults to 24 hours.
func NewService(jwtSecret string, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Service{
		jwtSecret: []byte(jwtSecret),
		expiry:    expiry,
		accounts:  make(map[string]account),
	}
}

// secretMatches compares in constant time for equal-length inputs.
func secretMatches(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// GenerateToken generates a JWT token for valid API credentials
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	s.mu.RLock()
	acct, exists := s.accounts[creds.APIKey]
	s.mu.RUnlock()
	if !exists || !secretMatches(acct.secret, creds.APISecret) {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	expiration := now.Add(s.expiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		ClientID:  creds.APIKey,
		Role:      acct.role,
		PartnerID: acct.partnerID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		Expiration: expiration,
		Role:       acct.role,
		PartnerID:  acct.partnerID,
	}, nil
}

// ValidateToken verifies the signature and expiry and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// RegisterAPICredentials registers an API key. Partner admins must name the
// partner they manage.
func (s *Service) RegisterAPICredentials(apiKey, apiSecret, role, partnerID string) error {
	switch role {
	case RolePlatformAdmin:
		partnerID = ""
	case RolePartnerAdmin:
		if partnerID == "" {
			return fmt.Errorf("%w: partner admin requires a partner id", ErrInvalidRole)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	s.mu.Lock()
	s.accounts[apiKey] = account{secret: apiSecret, role: role, partnerID: partnerID}
	s.mu.Unlock()
	return nil
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GenerateTokenHandler handles POST requests to generate JWT tokens
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}
