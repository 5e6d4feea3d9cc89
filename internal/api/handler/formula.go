package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/sascha1337/wasmd-indexer/internal/apperr"
	"github.com/sascha1337/wasmd-indexer/internal/formula"
	joseJSON "github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandleCompute implements compute(formula, contract, args, atBlock?):
// GET /formulas/{name}?contract=...&args=...&atBlock=...
func (h *Handler) HandleCompute(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	query := r.URL.Query()
	contract := query.Get("contract")
	if contract == "" {
		writeError(w, http.StatusBadRequest, "contract is required")
		return
	}

	args := formula.Args{}
	if raw := query.Get("args"); raw != "" {
		if err := joseJSON.Unmarshal([]byte(raw), &args); err != nil {
			writeError(w, http.StatusBadRequest, "args must be a JSON object of string to string")
			return
		}
	}

	atBlock, err := h.resolveAtBlock(r, query.Get("atBlock"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	latest, err := h.State.Get(r.Context())
	if err != nil {
		h.Logger.Error("compute: load state failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	output, err := h.Cache.Query(r.Context(), name, contract, args, atBlock, latest.LatestBlockHeight)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(output)
}

func (h *Handler) resolveAtBlock(r *http.Request, raw string) (uint64, error) {
	if raw == "" {
		st, err := h.State.Get(r.Context())
		if err != nil {
			return 0, err
		}
		return st.LatestBlockHeight, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New("atBlock must be a non-negative integer")
	}
	return v, nil
}

func (h *Handler) writeComputeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrUnknownFormula):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrContractNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrNoEvents):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrNotYetIndexed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrFormula):
		h.Logger.Warn("compute: formula error", zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.Logger.Error("compute: unexpected error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, _ := joseJSON.Marshal(map[string]string{"error": msg})
	_, _ = w.Write(body)
}
