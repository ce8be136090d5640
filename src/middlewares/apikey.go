package middlewares

import (
	"log"
	"net/http"
	"resv/src/common"
	"resv/src/types"

	"github.com/gin-gonic/gin"
)

const PartnerContextKey = "partner"

// PartnerAuth authenticates the X-Api-Key header against the partner
// directory. Authentication runs before any request body is looked at, so
// an unauthenticated caller learns nothing about validation rules.
func PartnerAuth(dir common.PartnerDirectory) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		apiKey := ctx.Request.Header.Get("X-Api-Key")
		if apiKey == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": types.NewAPIError(types.ERR_UNAUTHORIZED, "missing X-Api-Key header"),
			})
			return
		}
		partner, err := dir.FindByAPIKey(ctx.Request.Context(), apiKey)
		if err != nil {
			log.Printf("[auth] rejected api key: %s\n", err.Error())
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": types.NewAPIError(types.ERR_UNAUTHORIZED, "invalid api key"),
			})
			return
		}
		ctx.Set(PartnerContextKey, partner)
		ctx.Next()
	}
}
