// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package channel_whep

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// newAnswerServer answers every POST with testAnswer and a relative Location.
func newAnswerServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Location", "/whep/res")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(testAnswer))
	}))
}
