package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/simplemem/pkg/domain/model"
	"github.com/secmon-lab/simplemem/pkg/usecase"
	"github.com/secmon-lab/simplemem/pkg/utils/async"
	"github.com/secmon-lab/simplemem/pkg/utils/errutil"
)

// statusOf maps domain errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrClearNotConfirmed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, model.ErrBackendUnavailable), errors.Is(err, model.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrBackendTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	errutil.HandleHTTP(r.Context(), w, err, statusOf(err))
}

// decodeJSON reads the request body into v. An oversized body yields 413,
// any other decode failure 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, false)
}

// decodeOptionalJSON is decodeJSON that leaves v untouched on an empty body
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "request body too large", goerr.V("limit", maxErr.Limit)), http.StatusRequestEntityTooLarge)
		case errors.Is(err, io.EOF) && allowEmpty:
			return true
		case errors.Is(err, io.EOF):
			errutil.HandleHTTP(r.Context(), w, goerr.Wrap(model.ErrInvalidInput, "request body is empty"), http.StatusBadRequest)
		default:
			errutil.HandleHTTP(r.Context(), w, goerr.Wrap(model.ErrInvalidInput, "invalid JSON body", goerr.V("error", err.Error())), http.StatusBadRequest)
		}
		return false
	}
	return true
}

func addDialogueHandler(uc *usecase.MemoryUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var dialogue model.Dialogue
		if !decodeJSON(w, r, &dialogue) {
			return
		}

		if err := uc.Add(r.Context(), &dialogue); err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, messageResponse{
			Message: "Dialogue added to pending buffer",
			Success: true,
		})
	}
}

func addDialoguesHandler(uc *usecase.MemoryUseCase) http.HandlerFunc {
	type request struct {
		Dialogues []*model.Dialogue `json:"dialogues"`
	}
	type response struct {
		Message string `json:"message"`
		Success bool   `json:"success"`
		Count   int    `json:"count"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeJSON(w, r, &req) {
			return
		}

		n, err := uc.AddMany(r.Context(), req.Dialogues)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, response{
			Message: fmt.Sprintf("Added %d dialogues to pending buffer", n),
			Success: true,
			Count:   n,
		})
	}
}

func finalizeHandler(uc *usecase.MemoryUseCase, dispatcher *async.Dispatcher) http.HandlerFunc {
	type response struct {
		Message string `json:"message"`
		Success bool   `json:"success"`
		*model.FinalizeResult
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if dispatcher != nil && r.URL.Query().Get("async") == "true" {
			dispatcher.Dispatch(r.Context(), "finalize", func(ctx context.Context) error {
				_, err := uc.Finalize(ctx)
				return err
			})
			writeJSON(w, r, http.StatusAccepted, messageResponse{
				Message: "Finalize scheduled",
				Success: true,
			})
			return
		}

		result, err := uc.Finalize(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, response{
			Message:        fmt.Sprintf("Finalized %d dialogues into %d memories", result.Processed, result.Created),
			Success:        true,
			FinalizeResult: result,
		})
	}
}

func queryHandler(uc *usecase.MemoryUseCase) http.HandlerFunc {
	// query is accepted as an alias of question
	type request struct {
		Question  string   `json:"question"`
		Query     string   `json:"query"`
		Limit     int      `json:"limit"`
		Threshold *float64 `json:"threshold"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeJSON(w, r, &req) {
			return
		}

		q := model.Query{
			Question:  req.Question,
			Limit:     req.Limit,
			Threshold: req.Threshold,
		}
		if q.Question == "" {
			q.Question = req.Query
		}

		answer, err := uc.Ask(r.Context(), q)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, answer)
	}
}

// retrieveHandler lists records in insertion order, or runs a similarity
// search when the query parameter is set.
func retrieveHandler(uc *usecase.MemoryUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()

		var limit int
		if v := params.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				handleError(w, r, goerr.Wrap(model.ErrInvalidInput, "limit must be a non-negative integer", goerr.V("limit", v)))
				return
			}
			limit = n
		}

		var threshold *float64
		if v := params.Get("threshold"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				handleError(w, r, goerr.Wrap(model.ErrInvalidInput, "threshold must be a number", goerr.V("threshold", v)))
				return
			}
			threshold = &f
		}

		var (
			records []*model.MemoryRecord
			err     error
		)
		if question := params.Get("query"); question != "" {
			records, err = uc.Search(r.Context(), question, limit, threshold)
		} else {
			records, err = uc.Retrieve(r.Context(), limit)
		}
		if err != nil {
			handleError(w, r, err)
			return
		}

		if records == nil {
			records = []*model.MemoryRecord{}
		}
		writeJSON(w, r, http.StatusOK, records)
	}
}

func statsHandler(uc *usecase.MemoryUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := uc.Stats(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, stats)
	}
}

func clearHandler(uc *usecase.MemoryUseCase) http.HandlerFunc {
	type request struct {
		Confirmation bool `json:"confirmation"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeOptionalJSON(w, r, &req) {
			return
		}

		if err := uc.Clear(r.Context(), req.Confirmation); err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, messageResponse{
			Message: "All memories cleared",
			Success: true,
		})
	}
}

func deleteHandler(uc *usecase.MemoryUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := model.EntryID(chi.URLParam(r, "entry_id"))

		if err := uc.Delete(r.Context(), id); err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, messageResponse{
			Message: fmt.Sprintf("Memory %s deleted successfully", id),
			Success: true,
		})
	}
}
