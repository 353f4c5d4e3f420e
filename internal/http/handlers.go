package http

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"marketstats.shikanime.studio/internal/stats"
)

// Columns accepted by the stats query parameter.
var validColumns = []string{"time", "delta", "installs", "updates", "total_installed", "onpremDownloads"}

var defaultColumns = []string{"time", "total_installed"}

const maxExtensionIDLen = 256

type extensionView struct {
	Name          string  `json:"name"`
	DisplayName   string  `json:"displayName"`
	Icon          *string `json:"icon,omitempty"`
	TotalInstalls *int    `json:"totalInstalls"`
}

type versionStats struct {
	ID     string           `json:"_id"`
	Events []map[string]any `json:"events"`
}

func writeJSON(w stdhttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
	switch {
	case errors.Is(err, stats.ErrNotFound):
		stdhttp.Error(w, err.Error(), stdhttp.StatusNotFound)
	case errors.Is(err, stats.ErrExtensionExists):
		stdhttp.Error(w, err.Error(), stdhttp.StatusConflict)
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		stdhttp.Error(w, stdhttp.StatusText(stdhttp.StatusInternalServerError), stdhttp.StatusInternalServerError)
	}
}

// extension resolves a tracked extension or writes a 404.
func (s *Server) extension(w stdhttp.ResponseWriter, r *stdhttp.Request, id string) (*stats.Extension, bool) {
	ext, err := s.reader.FindExtensionByName(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if ext == nil {
		stdhttp.Error(w, "Unknown extension: "+id, stdhttp.StatusNotFound)
		return nil, false
	}
	return ext, true
}

func (s *Server) handleIndex(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	start := time.Now()
	popular, err := s.reader.ListActiveByPopularity(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.DebugContext(r.Context(), "Fetched extensions", "count", len(popular), "duration", time.Since(start))
	out := make([]extensionView, 0, len(popular))
	for _, p := range popular {
		out = append(out, extensionView{
			Name:          p.Extension.Name,
			DisplayName:   p.Extension.DisplayName,
			Icon:          p.Extension.Icon,
			TotalInstalls: p.TotalInstalls,
		})
	}
	writeJSON(w, stdhttp.StatusOK, out)
}

// parseColumns reads the stats query parameter, repeated or comma separated.
func parseColumns(values []string) ([]string, error) {
	var cols []string
	for _, v := range values {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				cols = append(cols, c)
			}
		}
	}
	if len(cols) == 0 {
		return defaultColumns, nil
	}
	var msg strings.Builder
	for _, c := range cols {
		if !slices.Contains(validColumns, c) {
			fmt.Fprintf(&msg, "Invalid value for the stats parameter: %q\n", c)
		}
	}
	if msg.Len() > 0 {
		fmt.Fprintf(&msg, "Valid values for the stats parameter are: [%s]", strings.Join(validColumns, ", "))
		return nil, errors.New(msg.String())
	}
	return cols, nil
}

func column(name string, r *stats.ExtensionInstall) any {
	switch name {
	case "time":
		return r.Time
	case "delta":
		return r.Delta
	case "installs":
		return r.Installs
	case "updates":
		return r.Updates
	case "total_installed":
		return r.TotalInstalls
	case "onpremDownloads":
		return r.OnpremDownloads
	}
	return nil
}

// groupByVersion keeps versions in order of first appearance.
func groupByVersion(rows []*stats.ExtensionInstall, cols []string) []versionStats {
	out := []versionStats{}
	index := map[string]int{}
	for _, row := range rows {
		i, ok := index[row.Version]
		if !ok {
			i = len(out)
			index[row.Version] = i
			out = append(out, versionStats{ID: row.Version})
		}
		event := make(map[string]any, len(cols))
		for _, c := range cols {
			event[c] = column(c, row)
		}
		out[i].Events = append(out[i].Events, event)
	}
	return out
}

func (s *Server) handleStats(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	cols, err := parseColumns(r.URL.Query()["stats"])
	if err != nil {
		stdhttp.Error(w, err.Error(), stdhttp.StatusBadRequest)
		return
	}
	ext, ok := s.extension(w, r, r.PathValue("extensionId"))
	if !ok {
		return
	}
	rows, err := s.reader.ListInstalls(r.Context(), ext)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, stdhttp.StatusOK, groupByVersion(rows, cols))
}

func (s *Server) handleCSV(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	id, ok := strings.CutSuffix(r.PathValue("file"), ".csv")
	if !ok || id == "" {
		stdhttp.NotFound(w, r)
		return
	}
	ext, ok := s.extension(w, r, id)
	if !ok {
		return
	}
	rows, err := s.reader.ListInstalls(r.Context(), ext)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ext.Name+".csv"))
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"version", "installs", "updates", "total_installed", "time"})
	for _, row := range rows {
		_ = cw.Write([]string{
			row.Version,
			strconv.Itoa(row.Installs),
			strconv.Itoa(row.Updates),
			strconv.Itoa(row.TotalInstalls),
			row.Time.UTC().Format(time.RFC3339),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.WarnContext(r.Context(), "failed to write csv", "extension", ext.Name, "error", err)
	}
}

func (s *Server) handleAddExtension(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxExtensionIDLen+1))
	if err != nil {
		stdhttp.Error(w, "failed to read request body", stdhttp.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(string(body))
	switch {
	case id == "":
		stdhttp.Error(w, "extensionId is missing", stdhttp.StatusBadRequest)
		return
	case len(id) > maxExtensionIDLen:
		stdhttp.Error(w, "extensionId is too long", stdhttp.StatusBadRequest)
		return
	}
	ext, err := s.watcher.AddExtension(context.WithoutCancel(r.Context()), id)
	if err != nil {
		if errors.Is(err, stats.ErrExtensionExists) {
			stdhttp.Error(w, id+" already exists", stdhttp.StatusConflict)
			return
		}
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(stdhttp.StatusAccepted)
	io.WriteString(w, ext.DisplayName+" was added")
}

func (s *Server) handleRefresh(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	res, err := s.watcher.Refresh(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "Refresh completed", "skipped", res.Skipped, "recorded", res.Recorded)
	s.handleIndex(w, r)
}

func (s *Server) handleRefreshExtension(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	row, err := s.watcher.RefreshExtension(context.WithoutCancel(r.Context()), r.PathValue("extensionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, stdhttp.StatusOK, map[string]any{
		"version":         row.Version,
		"installs":        row.Installs,
		"updates":         row.Updates,
		"total_installed": row.TotalInstalls,
		"delta":           row.Delta,
		"onpremDownloads": row.OnpremDownloads,
		"time":            row.Time,
	})
}

// handleDocument proxies the upstream document of an extension as-is.
func (s *Server) handleDocument(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	doc, err := s.docs.ExtensionDocument(r.Context(), r.PathValue("extensionId"))
	if err != nil {
		slog.WarnContext(r.Context(), "failed to fetch extension document", "error", err)
		stdhttp.Error(w, stdhttp.StatusText(stdhttp.StatusBadGateway), stdhttp.StatusBadGateway)
		return
	}
	if doc == nil {
		stdhttp.NotFound(w, r)
		return
	}
	if len(doc.Raw) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc.Raw)
		return
	}
	writeJSON(w, stdhttp.StatusOK, doc)
}
