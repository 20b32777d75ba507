// Coworker is a local-first filesystem coworker server.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package api

import (
	"encoding/json"
	"net/http"

	"coworker/pkg/coworker"
)

// wireError is the stable error envelope returned for every non-2xx
// response: {error: string, code: string}.
type wireError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a sentinel error from pkg/coworker (or an unrecognized
// error, folded to "Internal") to its wire code and HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := coworker.Code(err)
	writeJSON(w, statusForCode(code), wireError{Error: err.Error(), Code: code})
}

func statusForCode(code string) int {
	switch code {
	case "NotFound":
		return http.StatusNotFound
	case "InvalidArgument":
		return http.StatusBadRequest
	case "Forbidden":
		return http.StatusForbidden
	case "NotReady":
		return http.StatusConflict
	case "BadState":
		return http.StatusConflict
	case "ApprovalRequired":
		return http.StatusBadRequest
	case "Expired":
		return http.StatusGone
	case "Mismatch":
		return http.StatusConflict
	case "Unauthorized":
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
