package middleware

import (
	"encoding/base64"
	"strings"

	"github.com/searchktools/mini-server/core/http"
)

// BasicAuth rejects requests whose Basic credentials are missing or not
// accepted by check with 401 "Unauthorized access".
func BasicAuth(realm string, check func(user, password string) bool) Middleware {
	challenge := `Basic realm="` + realm + `"`

	return func(req *http.Request, res *http.Response, params http.Params, next Next) {
		user, password, ok := basicCredentials(req.Header("Authorization"))
		if !ok || !check(user, password) {
			res.Status(http.StatusUnauthorized).
				Header("WWW-Authenticate", challenge).
				Header(http.HeaderContentType, "text/plain").
				Send("Unauthorized access")
			return
		}
		next(req, res, params)
	}
}

func basicCredentials(header string) (user, password string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(decoded), ":")
}
