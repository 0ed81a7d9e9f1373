package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mikaelchan95/easiapp-order-service/internal/jwt"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/errs"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/principal"
)

// Principal verifies the request's identity token and stores the
// resolved principal in the request context. Tokens are minted by the
// identity collaborator; this service only verifies them.
func Principal(signingKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		f := func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("Authorization")
			if token == "" {
				if cookie, err := r.Cookie("Authorization"); err == nil {
					token = cookie.Value
				}
			}
			if token == "" {
				errorHandlerFunc(w, r, fmt.Errorf("authorization token: %w", errs.ErrNotFound))
				return
			}

			p, err := jwt.GetPrincipal(token, signingKey)
			if err != nil {
				errorHandlerFunc(w, r, fmt.Errorf("%w: %s", errs.ErrInvalidCredentials, err))
				return
			}

			r = r.WithContext(principal.NewContext(r.Context(), p))

			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(f)
	}
}

// errorHandlerFunc handles sending of an error in the JSON format,
// writing appropriate status code and handling the failure to marshal that.
func errorHandlerFunc(w http.ResponseWriter, _ *http.Request, err error) {
	errJSON := errs.JSON{Error: err.Error()}
	code := http.StatusInternalServerError

	if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrInvalidCredentials) {
		code = http.StatusUnauthorized
	}

	w.WriteHeader(code)

	if err = json.NewEncoder(w).Encode(errJSON); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
