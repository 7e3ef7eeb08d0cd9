package common

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/freight-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freight-escrow/internal/http/middleware"
	"github.com/ignatzorin/freight-escrow/internal/interface/http/response"
	"github.com/ignatzorin/freight-escrow/internal/pkg/apperror"
)

// Actor автор запроса из JWT.
type Actor struct {
	ID   uuid.UUID
	Role valueobject.Role
}

func (a Actor) IsAdmin() bool { return a.Role == valueobject.RoleAdmin }

// CurrentUserID извлекает ID пользователя, положенный AuthMiddleware.
func CurrentUserID(c *gin.Context) (uuid.UUID, error) {
	raw, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return uuid.Nil, apperror.ErrUnauthorized
	}
	userID, ok := raw.(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, apperror.ErrUnauthorized
	}
	return userID, nil
}

func CurrentUserRole(c *gin.Context) (valueobject.Role, error) {
	raw, exists := c.Get(middleware.ContextRoleKey)
	if !exists {
		return "", apperror.ErrUnauthorized
	}
	role, ok := raw.(valueobject.Role)
	if !ok || !role.IsUserRole() {
		return "", apperror.ErrUnauthorized
	}
	return role, nil
}

func CurrentActor(c *gin.Context) (Actor, error) {
	id, err := CurrentUserID(c)
	if err != nil {
		return Actor{}, err
	}
	role, err := CurrentUserRole(c)
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: id, Role: role}, nil
}

// ParseUUIDParam разбирает UUID из пути.
func ParseUUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperror.New(apperror.ErrCodeBadRequest, "неверный формат "+name)
	}
	return parsed, nil
}

type validatable interface {
	Validate() error
}

// BindJSON разбирает тело запроса и проверяет поля, если запрос это умеет.
func BindJSON(c *gin.Context, req interface{}) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeBadRequest, "некорректное тело запроса")
	}
	if v, ok := req.(validatable); ok {
		if err := v.Validate(); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeValidation, err.Error())
		}
	}
	return nil
}

// RespondError отдаёт ошибку в конверте и передаёт её ErrorHandler для логирования.
func RespondError(c *gin.Context, err error) {
	_ = c.Error(err)
	response.Error(c, err)
}
