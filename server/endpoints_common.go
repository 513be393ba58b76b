package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/flagpole-io/flagpole/config"
	"github.com/flagpole-io/flagpole/internal/api"
	"github.com/flagpole-io/flagpole/internal/logging"
	"github.com/flagpole-io/flagpole/internal/middleware"
	"github.com/flagpole-io/flagpole/internal/permission"
	"github.com/flagpole-io/flagpole/internal/services"
	"github.com/flagpole-io/flagpole/internal/validation"
)

const (
	invalidJSONMessage      = "Request body is not valid JSON"
	missingBodyMessage      = "Request body is required"
	bodyTooLargeMessage     = "Request body is too large"
	internalErrorMessage    = "Internal error"
	projectForbiddenMessage = "You do not have access to project %q"
)

// limitRequestBody caps the size of every request body. Reading past the limit fails with
// *http.MaxBytesError, which writeError reports as 413.
func (s *Server) limitRequestBody(next http.Handler) http.Handler {
	maxBytes := int64(s.config.Main.MaxRequestBodyBytes.GetOrElse(config.DefaultMaxRequestBodyBytes))
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Body != nil && req.Body != http.NoBody {
			req.Body = http.MaxBytesReader(w, req.Body, maxBytes)
		}
		next.ServeHTTP(w, req)
	})
}

// readJSON decodes the request body. Malformed JSON is reported as a validation error so that it
// produces a 400 response.
func readJSON(req *http.Request, target interface{}) error {
	if req.Body == nil || req.Body == http.NoBody {
		return validation.NewError("", missingBodyMessage)
	}
	err := json.NewDecoder(req.Body).Decode(target)
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	if errors.Is(err, io.EOF) {
		return validation.NewError("", missingBodyMessage)
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &validation.Error{
			Message: invalidJSONMessage,
			Details: []validation.FieldError{{Path: typeErr.Field, Description: "must be of type " + typeErr.Type.String()}},
		}
	}
	return &validation.Error{
		Message: invalidJSONMessage,
		Details: []validation.FieldError{{Path: "", Description: err.Error()}},
	}
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeErrorRep(w http.ResponseWriter, status int, rep api.ErrorRep) {
	writeJSON(w, status, rep)
}

// writeError maps an error from a service to a status code:
//
//   - *services.ValidationError: 400, with the field details
//   - *services.NotFoundError: 404
//   - *services.NameExistsError: 409
//   - *services.OperationDeniedError: 403
//   - *http.MaxBytesError: 413
//   - anything else: 500, and the error is logged
func writeError(w http.ResponseWriter, req *http.Request, err error) {
	var (
		invalid  *services.ValidationError
		notFound *services.NotFoundError
		exists   *services.NameExistsError
		denied   *services.OperationDeniedError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &invalid):
		writeErrorRep(w, http.StatusBadRequest, api.ErrorRep{Message: invalid.Message, Details: invalid.Details})
	case errors.As(err, &notFound):
		writeErrorRep(w, http.StatusNotFound, api.ErrorRep{Message: notFound.Error()})
	case errors.As(err, &exists):
		writeErrorRep(w, http.StatusConflict, api.ErrorRep{Message: exists.Error()})
	case errors.As(err, &denied):
		writeErrorRep(w, http.StatusForbidden, api.ErrorRep{Message: denied.Error()})
	case errors.As(err, &tooLarge):
		writeErrorRep(w, http.StatusRequestEntityTooLarge, api.ErrorRep{Message: bodyTooLargeMessage})
	default:
		logging.GetGlobalContextLoggers(req.Context()).Errorf("Unexpected error for %s %s: %s",
			req.Method, req.URL.Path, err)
		writeErrorRep(w, http.StatusInternalServerError, api.ErrorRep{Message: internalErrorMessage})
	}
}

func identity(req *http.Request) permission.Identity {
	id, _ := middleware.GetIdentity(req.Context())
	return id
}

func by(req *http.Request) string {
	return identity(req).Username()
}

func pathParam(req *http.Request, name string) string {
	return mux.Vars(req)[name]
}

// pathID parses a numeric path parameter. The routes only match digits, so this fails only on overflow.
func pathID(req *http.Request, name string) (int64, error) {
	value := pathParam(req, name)
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, validation.NewErrorf(name, "%q is not a valid id", value)
	}
	return id, nil
}

// queryInt returns an integer query parameter, or defaultValue if it is absent.
func queryInt(req *http.Request, name string, defaultValue int) (int, error) {
	value := req.URL.Query().Get(name)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, validation.NewErrorf(name, "%q is not a number", value)
	}
	return n, nil
}

// checkProjectAccess writes a 403 response and returns false if the caller's token is scoped to
// other projects.
func checkProjectAccess(w http.ResponseWriter, req *http.Request, project string) bool {
	if permission.CanAccessProject(identity(req), project) {
		return true
	}
	writeErrorRep(w, http.StatusForbidden, api.ErrorRep{Message: fmt.Sprintf(projectForbiddenMessage, project)})
	return false
}

func listOf[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
