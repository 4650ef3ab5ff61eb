package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	"github.com/jwalitptl/clinic-api/pkg/validator"
)

// ContextActor is the gin context key holding the authenticated model.Actor.
const ContextActor = "actor"

func Actor(c *gin.Context) (model.Actor, bool) {
	v, ok := c.Get(ContextActor)
	if !ok {
		return model.Actor{}, false
	}
	actor, ok := v.(model.Actor)
	return actor, ok
}

// MustActor returns the request actor. Routes using it sit behind
// Authenticate, so a missing actor is a wiring bug.
func MustActor(c *gin.Context) model.Actor {
	actor, ok := Actor(c)
	if !ok {
		panic("handler: no actor on request context")
	}
	return actor
}

// ParamID parses a uuid path parameter, answering 400 when it is malformed.
func ParamID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, apperrors.BadRequest("invalid "+name, err))
		return uuid.Nil, false
	}
	return id, true
}

// BindJSON decodes the body into dst. Binding rule failures are reported per
// field with 422.
func BindJSON(c *gin.Context, dst interface{}) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	if fields := validator.FieldErrors(err); len(fields) > 0 {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, &Response{
			Status:  "error",
			Message: "validation failed",
			Errors:  fields,
		})
		return false
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		RespondError(c, appErr)
		return false
	}
	RespondError(c, apperrors.BadRequest("invalid request body: "+err.Error(), err))
	return false
}

// BindQuery decodes query parameters into dst.
func BindQuery(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		RespondError(c, apperrors.BadRequest("invalid query: "+err.Error(), err))
		return false
	}
	return true
}

// QueryID parses an optional uuid query parameter. An absent parameter yields
// nil.
func QueryID(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		RespondError(c, apperrors.BadRequest("invalid "+name, err))
		return nil, false
	}
	return &id, true
}

// QueryEnum parses an optional enum query parameter with parse.
func QueryEnum[T ~string](c *gin.Context, name string, parse func(string) (T, error)) (T, bool) {
	raw := c.Query(name)
	if raw == "" {
		return "", true
	}
	v, err := parse(raw)
	if err != nil {
		RespondError(c, apperrors.BadRequest("invalid "+name, err))
		return "", false
	}
	return v, true
}

// QueryRange binds the from/to query parameters (YYYY-MM-DD).
func QueryRange(c *gin.Context) (model.DateRange, bool) {
	var r model.DateRange
	if !BindQuery(c, &r) {
		return model.DateRange{}, false
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		RespondError(c, apperrors.BadRequest("to must not precede from", nil))
		return model.DateRange{}, false
	}
	return r, true
}
