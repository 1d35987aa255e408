package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

var allowedURLChars = regexp.MustCompile(`^[A-Za-z0-9\-._~:/?#\[\]@!$&'()*+,;=%]+$`)
var allowedHost = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	repo          *Repository
	uploader      ImageUploader
	remover       ImageRemover
	whatsappPhone string
}

type ImageUploader interface {
	UploadImage(ctx context.Context, imageSource string) (string, error)
}

// ImageRemover releases a hosted image once no product references it.
// Removal is best-effort; a failed destroy never fails the request.
type ImageRemover interface {
	RemoveImageByURL(ctx context.Context, secureURL string) error
}

// NewHandler builds the catalog HTTP surface. whatsappPhone is the
// business number inquiry links point at, digits only with country
// code; empty disables the inquiry endpoint.
func NewHandler(repo *Repository, uploader ImageUploader, remover ImageRemover, whatsappPhone string) *Handler {
	return &Handler{
		repo:          repo,
		uploader:      uploader,
		remover:       remover,
		whatsappPhone: strings.TrimSpace(whatsappPhone),
	}
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.repo.ListCategories(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}

	writeData(w, http.StatusOK, categories)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	input, ok := parseCategoryInput(w, r)
	if !ok {
		return
	}

	c, err := h.repo.CreateCategory(r.Context(), input)
	if err != nil {
		if errors.Is(err, ErrDuplicateCategory) {
			writeError(w, http.StatusBadRequest, "category name already taken")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create category")
		return
	}

	writeData(w, http.StatusCreated, c)
}

func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid category id")
		return
	}

	input, ok := parseCategoryInput(w, r)
	if !ok {
		return
	}

	c, err := h.repo.UpdateCategory(r.Context(), id, input)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "category not found")
			return
		}
		if errors.Is(err, ErrDuplicateCategory) {
			writeError(w, http.StatusBadRequest, "category name already taken")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update category")
		return
	}

	writeData(w, http.StatusOK, c)
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid category id")
		return
	}

	if err := h.repo.DeleteCategory(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "category not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete category")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	categoryID := strings.TrimSpace(r.URL.Query().Get("category_id"))
	if categoryID != "" {
		if _, err := uuid.Parse(categoryID); err != nil {
			writeError(w, http.StatusBadRequest, "invalid category id")
			return
		}
	}

	products, err := h.repo.ListProducts(r.Context(), categoryID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	writeData(w, http.StatusOK, products)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		writeError(w, http.StatusInternalServerError, "image uploader is not configured")
		return
	}

	input, ok := parseProductInput(w, r)
	if !ok {
		return
	}

	uploadedURL, err := h.uploader.UploadImage(r.Context(), input.ImageURL)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusBadGateway, "failed to upload image")
		return
	}
	input.ImageURL = uploadedURL

	p, err := h.repo.CreateProduct(r.Context(), input)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create product")
		return
	}

	writeData(w, http.StatusCreated, p)
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		writeError(w, http.StatusInternalServerError, "image uploader is not configured")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	existing, err := h.repo.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update product")
		return
	}

	input, ok := parseProductInput(w, r)
	if !ok {
		return
	}

	uploadedURL, err := h.uploader.UploadImage(r.Context(), input.ImageURL)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusBadGateway, "failed to upload image")
		return
	}
	input.ImageURL = uploadedURL

	p, err := h.repo.UpdateProduct(r.Context(), id, input)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update product")
		return
	}

	if existing.ImageURL != p.ImageURL {
		h.removeImage(r.Context(), existing.ImageURL)
	}

	writeData(w, http.StatusOK, p)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	existing, err := h.repo.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete product")
		return
	}

	if err := h.repo.DeleteProduct(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete product")
		return
	}

	h.removeImage(r.Context(), existing.ImageURL)

	w.WriteHeader(http.StatusNoContent)
}

// removeImage releases the hosted asset after the record is gone. The
// row delete already committed, so a failed destroy is only reported.
func (h *Handler) removeImage(ctx context.Context, imageURL string) {
	if h.remover == nil || imageURL == "" {
		return
	}
	if err := h.remover.RemoveImageByURL(ctx, imageURL); err != nil {
		sentry.CaptureException(err)
	}
}

// ProductInquiry answers with a wa.me link carrying a prefilled message
// about the product, so storefronts can hand the buyer straight to the
// business WhatsApp chat.
func (h *Handler) ProductInquiry(w http.ResponseWriter, r *http.Request) {
	if h.whatsappPhone == "" {
		writeError(w, http.StatusNotFound, "inquiries are not configured")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	p, err := h.repo.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load product")
		return
	}

	message := fmt.Sprintf("Hello! I am interested in %q (%s).", p.Title, p.ID)
	link := url.URL{
		Scheme:   "https",
		Host:     "wa.me",
		Path:     "/" + h.whatsappPhone,
		RawQuery: url.Values{"text": {message}}.Encode(),
	}

	writeData(w, http.StatusOK, map[string]string{"whatsapp_url": link.String()})
}

func parseCategoryInput(w http.ResponseWriter, r *http.Request) (CategoryInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input CategoryInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return CategoryInput{}, false
	}

	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)

	if input.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return CategoryInput{}, false
	}
	if !utf8.ValidString(input.Name) || len(input.Name) > 100 {
		writeError(w, http.StatusBadRequest, "name is invalid")
		return CategoryInput{}, false
	}
	if !utf8.ValidString(input.Description) || len(input.Description) > 500 {
		writeError(w, http.StatusBadRequest, "description is invalid")
		return CategoryInput{}, false
	}

	return input, true
}

func parseProductInput(w http.ResponseWriter, r *http.Request) (ProductInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input ProductInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return ProductInput{}, false
	}

	input.CategoryID = strings.TrimSpace(input.CategoryID)
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.ImageURL = strings.TrimSpace(input.ImageURL)

	if _, err := uuid.Parse(input.CategoryID); err != nil {
		writeError(w, http.StatusBadRequest, "category_id is invalid")
		return ProductInput{}, false
	}
	if input.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return ProductInput{}, false
	}
	if !utf8.ValidString(input.Title) || len(input.Title) > 150 {
		writeError(w, http.StatusBadRequest, "title is invalid")
		return ProductInput{}, false
	}
	if !utf8.ValidString(input.Description) || len(input.Description) > 1000 {
		writeError(w, http.StatusBadRequest, "description is invalid")
		return ProductInput{}, false
	}
	if input.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "image_url is required")
		return ProductInput{}, false
	}
	if len(input.ImageURL) > 500 || !isASCII(input.ImageURL) {
		writeError(w, http.StatusBadRequest, "image_url contains invalid characters")
		return ProductInput{}, false
	}
	if !allowedURLChars.MatchString(input.ImageURL) {
		writeError(w, http.StatusBadRequest, "image_url contains invalid characters")
		return ProductInput{}, false
	}
	parsedURL, err := url.ParseRequestURI(input.ImageURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		writeError(w, http.StatusBadRequest, "image_url must be a valid link")
		return ProductInput{}, false
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		writeError(w, http.StatusBadRequest, "image_url must start with http or https")
		return ProductInput{}, false
	}
	if parsedURL.User != nil || !allowedHost.MatchString(parsedURL.Hostname()) {
		writeError(w, http.StatusBadRequest, "image_url host is invalid")
		return ProductInput{}, false
	}
	if input.Price < 0 {
		writeError(w, http.StatusBadRequest, "price must be >= 0")
		return ProductInput{}, false
	}

	return input, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func isASCII(value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] < 32 || value[i] > 126 {
			return false
		}
	}
	return true
}
