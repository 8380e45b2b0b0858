package editor

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/exhibitdesk/internal/services"
)

// auditCSVHeaders returns the CSV column headers.
func auditCSVHeaders() []string {
	return []string{"id", "created_at", "kind", "record_id", "actor_id", "previous_holder", "action"}
}

// auditToCSVRow converts an entry to a CSV row (matching auditCSVHeaders order).
func auditToCSVRow(e services.AuditEntry) []string {
	return []string{
		e.ID,
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.Kind,
		e.RecordID,
		e.ActorID,
		e.PreviousHolder,
		e.Action,
	}
}

// handleAuditCSV exports the override log as CSV.
//
//	@Summary		Export lock override audit log
//	@Tags			editor
//	@Produce		text/csv
//	@Security		BearerAuth
//	@Param			kind	query	string	false	"Filter by record kind"
//	@Success		200		{file}	file
//	@Failure		403		{object}	map[string]any
//	@Router			/editor/audit.csv [get]
func (m *Module) handleAuditCSV(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	kind := r.URL.Query().Get("kind")
	opts := services.ListOptions{Limit: 1000}

	var entries []services.AuditEntry
	for {
		page, err := m.Audit(r.Context(), kind, opts)
		if err != nil {
			m.logger.Error("export audit entries failed", zap.Error(err))
			editorWriteError(w, http.StatusInternalServerError, "failed to export audit entries")
			return
		}
		entries = append(entries, page.Items...)
		if len(page.Items) == 0 || len(entries) >= page.Total {
			break
		}
		opts.Offset += len(page.Items)
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=\"lock-audit-%s.csv\"", time.Now().UTC().Format("20060102")))

	cw := csv.NewWriter(w)
	_ = cw.Write(auditCSVHeaders())
	for _, e := range entries {
		_ = cw.Write(auditToCSVRow(e))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		m.logger.Warn("audit CSV write failed", zap.Error(err))
	}
}
