package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forc-lang/forc-registry/internal/apierr"
	"github.com/forc-lang/forc-registry/internal/db/models"
	"github.com/forc-lang/forc-registry/internal/db/repositories"
)

func pageParams(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.Query("page"))
	perPage, _ = strconv.Atoi(c.Query("perPage"))
	return page, perPage
}

// paginatedResponse is the envelope every paginated listing returns.
type paginatedResponse struct {
	Data        any   `json:"data"`
	TotalCount  int64 `json:"totalCount"`
	TotalPages  int64 `json:"totalPages"`
	CurrentPage int   `json:"currentPage"`
	PerPage     int   `json:"perPage"`
}

func newPaginatedResponse(data any, total int64, page, perPage int) paginatedResponse {
	pages := total / int64(perPage)
	if total%int64(perPage) != 0 {
		pages++
	}
	return paginatedResponse{
		Data:        data,
		TotalCount:  total,
		TotalPages:  pages,
		CurrentPage: page,
		PerPage:     perPage,
	}
}

// decorateFullPackage derives the public gateway URLs from the stored CIDs.
func (h *Handlers) decorateFullPackage(p *models.FullPackage) {
	if h.GatewayURL == "" {
		return
	}
	p.SourceCodeIpfsURL = fmt.Sprintf("%s/ipfs/%s?filename=project.tgz", h.GatewayURL, p.SourceCID)
	if p.ABICID != nil {
		u := fmt.Sprintf("%s/ipfs/%s", h.GatewayURL, *p.ABICID)
		p.ABIIpfsURL = &u
	}
}

// listPackagesHandler serves GET /packages: every package at its default
// version, optionally restricted to those updated after a timestamp.
func (h *Handlers) listPackagesHandler(c *gin.Context) {
	var updatedAfter *time.Time
	if raw := c.Query("updatedAfter"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"kind": "InvalidRequest", "error": "updatedAfter must be RFC 3339"})
			return
		}
		updatedAfter = &t
	}

	page, perPage := repositories.PageDefaults(pageParams(c))
	packages, total, err := h.Packages.GetFullPackages(c.Request.Context(), updatedAfter, page, perPage)
	if err != nil {
		respondError(c, apierr.Database(err))
		return
	}
	for _, p := range packages {
		h.decorateFullPackage(p)
	}

	c.JSON(http.StatusOK, newPaginatedResponse(packages, total, page, perPage))
}

// getPackageHandler serves GET /package: one package at its default
// version, or at ?version= when given.
func (h *Handlers) getPackageHandler(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "InvalidRequest", "error": "name is required"})
		return
	}

	pkg, err := h.Packages.GetFullPackage(c.Request.Context(), name, c.Query("version"))
	if err != nil {
		respondError(c, apierr.Database(err))
		return
	}
	if pkg == nil {
		respondError(c, apierr.NotFound("package not found"))
		return
	}
	h.decorateFullPackage(pkg)

	c.JSON(http.StatusOK, pkg)
}

func (h *Handlers) packageVersionsHandler(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"kind": "InvalidRequest", "error": "name is required"})
		return
	}

	versions, err := h.Packages.ListVersionDetails(c.Request.Context(), name)
	if err != nil {
		respondError(c, apierr.Database(err))
		return
	}

	c.JSON(http.StatusOK, versions)
}

const recentPackagesLimit = 10

func (h *Handlers) recentPackagesHandler(c *gin.Context) {
	created, err := h.Packages.GetRecentlyCreated(c.Request.Context(), recentPackagesLimit)
	if err != nil {
		respondError(c, apierr.Database(err))
		return
	}
	updated, err := h.Packages.GetRecentlyUpdated(c.Request.Context(), recentPackagesLimit)
	if err != nil {
		respondError(c, apierr.Database(err))
		return
	}
	for _, p := range created {
		h.decorateFullPackage(p)
	}
	for _, p := range updated {
		h.decorateFullPackage(p)
	}

	c.JSON(http.StatusOK, gin.H{
		"recentlyCreated": created,
		"recentlyUpdated": updated,
	})
}

func (h *Handlers) searchHandler(c *gin.Context) {
	page, perPage := repositories.PageDefaults(pageParams(c))
	previews, total, err := h.Packages.SearchPackagesCombined(
		c.Request.Context(),
		c.Query("query"), c.Query("category"), c.Query("keyword"),
		page, perPage,
	)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, newPaginatedResponse(previews, total, page, perPage))
}

func (h *Handlers) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, true)
}
