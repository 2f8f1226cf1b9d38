package handler

import (
	"context"
	"errors"
	"log"
	"mime/multipart"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/service"
	"github.com/epibuilder/portal/pkg/response"
)

// DatabaseManager is the slice of the database service the handler needs.
type DatabaseManager interface {
	List(ctx context.Context) ([]model.Database, error)
	Create(ctx context.Context, req *model.DatabaseRequest, file *multipart.FileHeader) (*model.Database, error)
	Delete(ctx context.Context, id int64) error
}

type DatabaseHandler struct {
	service   DatabaseManager
	validator *validator.Validate
}

func NewDatabaseHandler(svc DatabaseManager, v *validator.Validate) *DatabaseHandler {
	return &DatabaseHandler{service: svc, validator: v}
}

// List handles GET /dbs and returns the catalog of registered
// proteome databases as a raw array.
func (h *DatabaseHandler) List(c *fiber.Ctx) error {
	dbs, err := h.service.List(c.Context())
	if err != nil {
		log.Printf("Database list failed: %v", err)
		return response.ServiceError(c, "Failed to list databases")
	}
	if dbs == nil {
		dbs = []model.Database{}
	}
	return response.OK(c, dbs)
}

// Create handles POST /dbs: a multipart body with an "alias" field and
// the database FASTA as "file". Admin only, enforced in routing.
func (h *DatabaseHandler) Create(c *fiber.Ctx) error {
	req := model.DatabaseRequest{Alias: c.FormValue("alias")}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Alias is required", nil)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "Database file is required", nil)
	}

	db, err := h.service.Create(c.Context(), &req, file)
	if err != nil {
		if errors.Is(err, service.ErrAliasTaken) {
			return response.Fail(c, fiber.StatusConflict, "A database with this alias already exists")
		}
		log.Printf("Database create failed for alias %q: %v", req.Alias, err)
		return response.ServiceError(c, "Failed to register database")
	}
	return response.Created(c, db)
}

// Delete handles DELETE /dbs/:id.
func (h *DatabaseHandler) Delete(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return response.ValidationError(c, "Invalid database id", nil)
	}

	if err := h.service.Delete(c.Context(), id); err != nil {
		if errors.Is(err, service.ErrDatabaseNotFound) {
			return response.NotFound(c, "Database not found")
		}
		log.Printf("Database delete failed for %d: %v", id, err)
		return response.ServiceError(c, "Failed to delete database")
	}
	return response.Success(c, "Database deleted successfully", nil)
}
