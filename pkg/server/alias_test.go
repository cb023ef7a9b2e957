package server

import (
	"net/http"
)

// TestCreateAlias tests linking an alias to a live token and resolving
// a download through it.
func (s *ServerTestSuite) TestCreateAlias() {
	token, _ := s.uploadEncrypted([]byte("aliased"), "alias-key")

	rec := s.doJSON(http.MethodPost, "/api/alias", map[string]string{
		"alias": "  Quarterly.Report  ",
		"token": token,
	})
	s.Require().Equal(http.StatusCreated, rec.Code)

	body := s.decode(rec)
	s.Equal("quarterly.report", body["alias"])
	s.Contains(body["aliasUrl"], "quarterly.report")

	// The alias resolves and consuming it spends the token too.
	rec = s.doJSON(http.MethodGet, "/api/download/quarterly.report", nil)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.doJSON(http.MethodGet, "/api/download/"+token, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

// TestCreateAliasValidation tests the 400 responses.
func (s *ServerTestSuite) TestCreateAliasValidation() {
	token, _ := s.uploadEncrypted([]byte("aliased"), "alias-key")

	rec := s.doJSON(http.MethodPost, "/api/alias", map[string]string{
		"alias": "-starts-wrong",
		"token": token,
	})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.doJSON(http.MethodPost, "/api/alias", map[string]string{
		"alias": "ok-alias",
	})
	s.Equal(http.StatusBadRequest, rec.Code)
}

// TestCreateAliasCollision tests the 409 response.
func (s *ServerTestSuite) TestCreateAliasCollision() {
	first, _ := s.uploadEncrypted([]byte("one"), "k1")
	second, _ := s.uploadEncrypted([]byte("two"), "k2")

	rec := s.doJSON(http.MethodPost, "/api/alias", map[string]string{
		"alias": "shared-name",
		"token": first,
	})
	s.Require().Equal(http.StatusCreated, rec.Code)

	rec = s.doJSON(http.MethodPost, "/api/alias", map[string]string{
		"alias": "shared-name",
		"token": second,
	})
	s.Equal(http.StatusConflict, rec.Code)
}

// TestCreateAliasUnknownToken tests the 404 response.
func (s *ServerTestSuite) TestCreateAliasUnknownToken() {
	rec := s.doJSON(http.MethodPost, "/api/alias", map[string]string{
		"alias": "orphan-name",
		"token": "deadbeef",
	})
	s.Equal(http.StatusNotFound, rec.Code)
}
