package workflow

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/xeipuuv/gojsonschema"
)

// decodeJWTClaims parses a JWT's claims without verifying its signature,
// for scripts that only need to inspect a token they received (e.g. to
// extract an expiry or subject), not to authenticate with it. Adapted from
// the teacher's hand-rolled base64-split JWT reader in
// pkg/core/tools/shared/auth_unified.go, repointed at a real JWT library.
func decodeJWTClaims(token string) (map[string]any, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, newErrf(KindScript, "", "jwt", "decoding JWT: %v", err)
	}
	return map[string]any(claims), nil
}

// validateJSONSchema reports whether doc (a JSON string) conforms to
// schema (a JSON-schema document, also as a JSON string), for
// script_assert steps that need structural validation beyond the
// key:value and json-query assertion forms.
func validateJSONSchema(schema, doc string) (bool, []string, error) {
	schemaLoader := gojsonschema.NewStringLoader(schema)
	docLoader := gojsonschema.NewStringLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return false, nil, newErrf(KindScript, "", "schema", "validating JSON schema: %v", err)
	}
	if result.Valid() {
		return true, nil, nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return false, errs, nil
}
