package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/service"
)

type stubDatabases struct {
	dbs     []model.Database
	created string
	deleted int64
	err     error
}

func (s *stubDatabases) List(ctx context.Context) ([]model.Database, error) {
	return s.dbs, s.err
}

func (s *stubDatabases) Create(ctx context.Context, req *model.DatabaseRequest,
	file *multipart.FileHeader) (*model.Database, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.created = req.Alias
	return &model.Database{ID: 1, Alias: req.Alias, FileName: file.Filename}, nil
}

func (s *stubDatabases) Delete(ctx context.Context, id int64) error {
	if s.err != nil {
		return s.err
	}
	s.deleted = id
	return nil
}

func databasesApp(svc DatabaseManager) *fiber.App {
	app := fiber.New()
	h := NewDatabaseHandler(svc, validator.New())
	g := app.Group("/dbs", asUser(1, "root", model.RoleAdmin))
	g.Get("/", h.List)
	g.Post("/", h.Create)
	g.Delete("/:id", h.Delete)
	return app
}

func databaseBody(t *testing.T, alias string, withFile bool) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if alias != "" {
		require.NoError(t, mw.WriteField("alias", alias))
	}
	if withFile {
		part, err := mw.CreateFormFile("file", "proteome.fasta")
		require.NoError(t, err)
		_, err = part.Write([]byte(">p1\nMKKL\n"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestListDatabases(t *testing.T) {
	app := databasesApp(&stubDatabases{dbs: []model.Database{{ID: 1, Alias: "human"}}})

	resp, err := app.Test(httptest.NewRequest("GET", "/dbs/", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var dbs []model.Database
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dbs))
	require.Len(t, dbs, 1)
	require.Equal(t, "human", dbs[0].Alias)
}

func TestCreateDatabase(t *testing.T) {
	svc := &stubDatabases{}
	app := databasesApp(svc)

	body, contentType := databaseBody(t, "human", true)
	req := httptest.NewRequest("POST", "/dbs/", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, "human", svc.created)
}

func TestCreateDatabaseRequiresAlias(t *testing.T) {
	app := databasesApp(&stubDatabases{})

	body, contentType := databaseBody(t, "", true)
	req := httptest.NewRequest("POST", "/dbs/", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestCreateDatabaseAliasConflict(t *testing.T) {
	app := databasesApp(&stubDatabases{err: service.ErrAliasTaken})

	body, contentType := databaseBody(t, "human", true)
	req := httptest.NewRequest("POST", "/dbs/", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestDeleteDatabase(t *testing.T) {
	svc := &stubDatabases{}
	app := databasesApp(svc)

	resp, err := app.Test(httptest.NewRequest("DELETE", "/dbs/4", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, int64(4), svc.deleted)
}
