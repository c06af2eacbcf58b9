package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/groupquiz-backend/internal/middleware"
	"github.com/stemsi/groupquiz-backend/internal/response"
	"github.com/stemsi/groupquiz-backend/internal/service"
)

// base holds what every handler needs to authenticate and report errors.
type base struct {
	log zerolog.Logger
}

// claims returns the caller's claims, writing a 401 when they are missing.
func (b *base) claims(c *gin.Context) (*service.Claims, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, false
	}
	return claims, true
}

// paramID parses a positive int64 path parameter, writing a 400 when it is invalid.
func (b *base) paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}

// paramSlot parses the :slot path parameter.
func (b *base) paramSlot(c *gin.Context) (int, bool) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || slot <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return slot, true
}
