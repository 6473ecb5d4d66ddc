package middleware

import (
	"context"
	"strings"

	"collaborative-page-builder/auth"
	"collaborative-page-builder/internal/domain"
	"collaborative-page-builder/internal/errors"

	"github.com/gin-gonic/gin"
)

// ClientIDHeader names the editor tab a mutating request comes from. The
// same value passed as client_id on the websocket keeps the tab from
// receiving its own changes back.
const ClientIDHeader = "X-Client-Id"

type UserProvider interface {
	GetUserByID(ctx context.Context, id uint64) (*domain.User, error)
}

type Auth struct {
	UserService UserProvider
}

func (m *Auth) AuthMiddleWare() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		var token string
		tokenQuery := ctx.Query("token")

		if authHeader != "" {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if tokenQuery != "" {
			// browsers cannot set headers on a websocket handshake
			token = tokenQuery
		} else {
			ctx.Error(errors.Unauthorized("Authorization is not found!", nil))
			ctx.Abort()
			return
		}

		parsedToken, err := auth.VerifyJWT(token)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid token!", err))
			ctx.Abort()
			return
		}

		userID, tokenVersion, err := auth.GetDataFromToken(parsedToken)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid token!", err))
			ctx.Abort()
			return
		}

		user, err := m.UserService.GetUserByID(ctx.Request.Context(), userID)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid User ID!", err))
			ctx.Abort()
			return
		}

		// Check token version
		if user.TokenVersion != tokenVersion {
			ctx.Error(errors.Unauthorized("Invalid token version!", nil))
			ctx.Abort()
			return
		}
		if !user.IsActive {
			ctx.Error(errors.Unauthorized("User is not active!", nil))
			ctx.Abort()
			return
		}

		clientID := ctx.GetHeader(ClientIDHeader)
		if clientID == "" {
			clientID = ctx.Query("client_id")
		}
		ctx.Set("user_id", userID)
		ctx.Set("client_id", clientID)
		ctx.Set("jwt_token", token)
		ctx.Next()
	}
}
