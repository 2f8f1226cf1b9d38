package handler

import (
	"context"
	"errors"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/service"
	"github.com/epibuilder/portal/pkg/response"
)

// Authenticator is the slice of the auth service the handler needs.
type Authenticator interface {
	Login(ctx context.Context, req *model.LoginRequest) (*model.LoginResponse, error)
}

type AuthHandler struct {
	service   Authenticator
	validator *validator.Validate
}

func NewAuthHandler(svc Authenticator, v *validator.Validate) *AuthHandler {
	return &AuthHandler{service: svc, validator: v}
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req model.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Username and password are required", nil)
	}

	res, err := h.service.Login(c.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return response.Fail(c, fiber.StatusBadRequest, "Invalid username or password")
		}
		log.Printf("Login error for %q: %v", req.Username, err)
		return response.ServiceError(c, "Internal server error")
	}

	return response.OK(c, res)
}
