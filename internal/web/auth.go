package web

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	stderrors "geneva-listings/internal/common/errors"
)

const tokenTTL = 12 * time.Hour

// issueToken signs a moderator token. The moderator id travels in the
// sub claim and becomes the actor_ref of every transition applied
// through the panel.
func (s *Server) issueToken(moderatorID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub":   moderatorID,
		"roles": []string{"MODERATOR"},
		"iat":   now.Unix(),
		"exp":   now.Add(tokenTTL).Unix(),
	})
	return token.SignedString([]byte(s.cfg.Web.JWTSecret))
}

type loginRequest struct {
	ModeratorID string `json:"moderator_id" binding:"required"`
	Password    string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, stderrors.NewValidationError("moderator_id and password are required"))
		return
	}

	if !s.cfg.Moderation.IsModerator(req.ModeratorID) ||
		subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.Web.AdminPassword)) != 1 {
		s.abortWithError(c, stderrors.NewAuthenticationError("unknown moderator or wrong password"))
		return
	}

	token, err := s.issueToken(req.ModeratorID)
	if err != nil {
		s.abortWithError(c, stderrors.NewAuthenticationError("failed to sign token"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": int(tokenTTL.Seconds())})
}

// jwtAuth guards the moderator API. It accepts only HS512 tokens
// signed with the configured secret and carrying the MODERATOR role.
func (s *Server) jwtAuth() gin.HandlerFunc {
	secret := []byte(s.cfg.Web.JWTSecret)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no bearer token"})
			return
		}
		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			if token.Method.Alg() != "HS512" {
				return nil, fmt.Errorf("only HS512 is allowed")
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			return
		}

		if !hasRole(claims, "MODERATOR") {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "moderator access only"})
			return
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing subject"})
			return
		}
		c.Set("moderator_id", sub)
		c.Next()
	}
}

func hasRole(claims jwt.MapClaims, want string) bool {
	rawRoles, exists := claims["roles"]
	if !exists {
		return false
	}
	switch roles := rawRoles.(type) {
	case []interface{}:
		for _, r := range roles {
			if s, ok := r.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, s := range roles {
			if s == want {
				return true
			}
		}
	case string:
		return roles == want
	}
	return false
}
