package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v3"

	"qryptic/internal/directory"
	"qryptic/internal/middleware"
	"qryptic/internal/models"
)

// immutableFields are link fields owners may never set through an update.
var immutableFields = []string{"id", "owner_id", "created_at", "updated_at", "scan_count"}

// LinkHandler handles link CRUD operations via JSON API.
type LinkHandler struct {
	store *directory.Store
}

// NewLinkHandler creates a new API link handler.
func NewLinkHandler(store *directory.Store) *LinkHandler {
	return &LinkHandler{store: store}
}

// List returns the caller's links, newest first.
func (h *LinkHandler) List(c fiber.Ctx) error {
	links, err := h.store.ListByOwner(c.Context(), middleware.OwnerID(c))
	if err != nil {
		return directoryError(c, err)
	}
	return jsonSuccess(c, links)
}

// Get returns one of the caller's links.
func (h *LinkHandler) Get(c fiber.Ctx) error {
	link, err := h.store.Get(c.Context(), c.Params("id"))
	if err != nil {
		return directoryError(c, err)
	}
	if !link.IsOwnedBy(middleware.OwnerID(c)) {
		return directoryError(c, directory.ErrForbidden)
	}
	return jsonSuccess(c, link)
}

// Create creates a new link owned by the caller.
func (h *LinkHandler) Create(c fiber.Ctx) error {
	var body directory.CreateInput
	if err := decodeStrict(c.Body(), &body); err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}

	link, err := h.store.Create(c.Context(), middleware.OwnerID(c), body)
	if err != nil {
		return directoryError(c, err)
	}
	return jsonCreated(c, link)
}

// Update changes the destination, title or colors of one of the caller's links.
func (h *LinkHandler) Update(c fiber.Ctx) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(c.Body(), &fields); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid request body")
	}
	for _, name := range immutableFields {
		if _, ok := fields[name]; ok {
			return jsonError(c, fiber.StatusBadRequest, fmt.Sprintf("%s cannot be changed", name))
		}
	}

	var patch models.LinkPatch
	if err := decodeStrict(c.Body(), &patch); err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}

	link, err := h.store.Update(c.Context(), c.Params("id"), middleware.OwnerID(c), patch)
	if err != nil {
		return directoryError(c, err)
	}
	return jsonSuccess(c, link)
}

// Delete permanently deletes one of the caller's links.
func (h *LinkHandler) Delete(c fiber.Ctx) error {
	id := c.Params("id")
	if err := h.store.Delete(c.Context(), id, middleware.OwnerID(c)); err != nil {
		return directoryError(c, err)
	}
	return jsonSuccess(c, fiber.Map{"id": id})
}

// decodeStrict decodes a JSON object into v, rejecting unknown fields.
func decodeStrict(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
