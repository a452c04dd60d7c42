package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"benchguard.io/internal/advisory"
	"benchguard.io/internal/anomaly"
)

// scan returns the monitor's last result when latest=true and one exists,
// otherwise runs a fresh scan.
func (a *API) scan(r *http.Request) anomaly.Result {
	if a.svc.Monitor != nil && r.URL.Query().Get("latest") == "true" {
		if res, ok := a.svc.Monitor.Latest(); ok {
			return res
		}
	}
	return a.svc.Scanner.Run(r.Context())
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, viewAudit); !ok {
		return
	}
	res := a.scan(r)
	if risk := strings.TrimSpace(r.URL.Query().Get("risk")); risk != "" {
		filtered := make([]anomaly.Flag, 0, len(res.Report.Flags))
		for _, f := range res.Report.Flags {
			if strings.EqualFold(string(f.Risk), risk) {
				filtered = append(filtered, f)
			}
		}
		res.Report.Flags = filtered
	}
	if res.Report.Flags == nil {
		res.Report.Flags = []anomaly.Flag{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, viewAudit); !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.scan(r).Summary)
}

// handleAdvisoryReport submits a digest of the current scan for advice. The
// advisor never sees raw ledger rows and its failure changes nothing.
func (a *API) handleAdvisoryReport(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, viewAudit); !ok {
		return
	}
	if a.svc.Advisory == nil || !a.svc.Advisory.Enabled() {
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	snap := advisory.NewSnapshot(a.scan(r))
	advice, err := a.svc.Advisory.Report(r.Context(), snap)
	if err != nil {
		if errors.Is(err, advisory.ErrUnavailable) {
			writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": snap,
		"advice":   advice,
	})
}
