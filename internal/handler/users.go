package handler

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/epibuilder/portal/internal/middleware"
	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/service"
	"github.com/epibuilder/portal/pkg/response"
)

// UserManager is the slice of the user service the handler needs.
type UserManager interface {
	List(ctx context.Context) ([]model.User, error)
	Create(ctx context.Context, req *model.UserRequest) (*model.User, error)
	Update(ctx context.Context, id int64, req *model.UserRequest) (*model.User, error)
	Delete(ctx context.Context, id int64) error
}

type UserHandler struct {
	service   UserManager
	validator *validator.Validate
}

func NewUserHandler(svc UserManager, v *validator.Validate) *UserHandler {
	return &UserHandler{service: svc, validator: v}
}

// List handles GET /users. Admin only, enforced in routing.
func (h *UserHandler) List(c *fiber.Ctx) error {
	users, err := h.service.List(c.Context())
	if err != nil {
		log.Printf("User list failed: %v", err)
		return response.ServiceError(c, "Failed to list users")
	}
	if users == nil {
		users = []model.User{}
	}
	return response.OK(c, users)
}

// Create handles POST /users.
func (h *UserHandler) Create(c *fiber.Ctx) error {
	var req model.UserRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request format", nil)
	}
	if req.Password == "" {
		return response.ValidationError(c, "Password is required", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Invalid user data", validationDetails(err))
	}

	user, err := h.service.Create(c.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			return response.Fail(c, fiber.StatusConflict, "Username already taken")
		}
		log.Printf("User create failed for %q: %v", req.Username, err)
		return response.ServiceError(c, "Failed to create user")
	}
	return response.Created(c, user)
}

// Update handles PUT /users/:id. An empty password leaves the stored
// credential untouched.
func (h *UserHandler) Update(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return response.ValidationError(c, "Invalid user id", nil)
	}

	var req model.UserRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request format", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Invalid user data", validationDetails(err))
	}

	user, err := h.service.Update(c.Context(), id, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			return response.NotFound(c, "User not found")
		case errors.Is(err, service.ErrUsernameTaken):
			return response.Fail(c, fiber.StatusConflict, "Username already taken")
		}
		log.Printf("User update failed for %d: %v", id, err)
		return response.ServiceError(c, "Failed to update user")
	}
	return response.OK(c, user)
}

// Delete handles DELETE /users/:id. Self-deletion is rejected so an
// admin cannot lock themselves out.
func (h *UserHandler) Delete(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return response.ValidationError(c, "Invalid user id", nil)
	}
	if id == middleware.GetUserID(c) {
		return response.Fail(c, fiber.StatusBadRequest, "Cannot delete your own account")
	}

	if err := h.service.Delete(c.Context(), id); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return response.NotFound(c, "User not found")
		}
		log.Printf("User delete failed for %d: %v", id, err)
		return response.ServiceError(c, "Failed to delete user")
	}
	return response.Success(c, "User deleted successfully", nil)
}
