package api

import (
	"log/slog"
	"net/http"

	"Web3-Sentinel/internal/catalog"
	xerrors "Web3-Sentinel/internal/errors"
)

type threatRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Severity    catalog.Severity `json:"severity"`
	Category    string           `json:"category"`
	Source      string           `json:"source"`
	Details     map[string]any   `json:"details"`
}

type reportRequest struct {
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	Type         catalog.ReportType `json:"type"`
	Threats      []string           `json:"threats"`
	Content      string             `json:"content"`
	PublishedURL string             `json:"publishedUrl"`
}

type toolRequest struct {
	Name           string               `json:"name"`
	Description    string               `json:"description"`
	Category       catalog.ToolCategory `json:"category"`
	Tags           []string             `json:"tags"`
	GitHubURL      string               `json:"githubUrl"`
	IsCustom       bool                 `json:"isCustom"`
	InstallCommand string               `json:"installCommand"`
	Documentation  string               `json:"documentation"`
}

func (s *Server) catalogEnabled(w http.ResponseWriter) bool {
	if s.deps.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "Catalog is not configured")
		return false
	}
	return true
}

// writeCatalogError 校验失败返回 400 与原始提示，其余错误统一为 500。
func (s *Server) writeCatalogError(w http.ResponseWriter, err error, fallback string) {
	if xerrors.CodeOf(err) == xerrors.CodeValidation {
		message := err.Error()
		if coded, ok := xerrors.From(err); ok {
			message = coded.Message()
		}
		writeError(w, http.StatusBadRequest, message)
		return
	}
	s.logger.Error(fallback, slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, fallback)
}

func (s *Server) handleListThreats(w http.ResponseWriter, r *http.Request) {
	if !s.catalogEnabled(w) {
		return
	}
	threats, err := s.deps.Catalog.ListThreats(r.Context())
	if err != nil {
		s.writeCatalogError(w, err, "Failed to fetch threats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threats": threats})
}

func (s *Server) handleAddThreat(w http.ResponseWriter, r *http.Request) {
	if !s.catalogEnabled(w) {
		return
	}
	var req threatRequest
	if err := decodeValidated(r, s.schemas.threat, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	threat, err := s.deps.Catalog.AddThreat(r.Context(), catalog.Threat{
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
		Category:    req.Category,
		Source:      req.Source,
		Details:     req.Details,
	})
	if err != nil {
		s.writeCatalogError(w, err, "Failed to create threat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threat": threat})
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if !s.catalogEnabled(w) {
		return
	}
	reports, err := s.deps.Catalog.ListReports(r.Context())
	if err != nil {
		s.writeCatalogError(w, err, "Failed to fetch reports")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (s *Server) handleAddReport(w http.ResponseWriter, r *http.Request) {
	if !s.catalogEnabled(w) {
		return
	}
	var req reportRequest
	if err := decodeValidated(r, s.schemas.report, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := s.deps.Catalog.AddReport(r.Context(), catalog.Report{
		Title:        req.Title,
		Description:  req.Description,
		Type:         req.Type,
		Threats:      req.Threats,
		Content:      req.Content,
		PublishedURL: req.PublishedURL,
	})
	if err != nil {
		s.writeCatalogError(w, err, "Failed to create report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if !s.catalogEnabled(w) {
		return
	}
	tools, err := s.deps.Catalog.ListTools(r.Context())
	if err != nil {
		s.writeCatalogError(w, err, "Failed to fetch tools")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (s *Server) handleAddTool(w http.ResponseWriter, r *http.Request) {
	if !s.catalogEnabled(w) {
		return
	}
	var req toolRequest
	if err := decodeValidated(r, s.schemas.tool, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tool, err := s.deps.Catalog.AddTool(r.Context(), catalog.Tool{
		Name:           req.Name,
		Description:    req.Description,
		Category:       req.Category,
		Tags:           req.Tags,
		GitHubURL:      req.GitHubURL,
		IsCustom:       req.IsCustom,
		InstallCommand: req.InstallCommand,
		Documentation:  req.Documentation,
	})
	if err != nil {
		s.writeCatalogError(w, err, "Failed to create tool")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool": tool})
}
