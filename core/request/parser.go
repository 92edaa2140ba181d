package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"hattivatti/core/models"

	"github.com/go-playground/validator/v10"
)

// ErrSchemaDrift means a manifest accepted by the JSON schema does not fit the typed request model
var ErrSchemaDrift = errors.New("valid manifest does not match the job request model")

var validate = validator.New()

// Parse deserialises a validated manifest into a JobRequest.
// Fields the model does not know about are ignored.
func Parse(manifest []byte) (*models.JobRequest, error) {
	var req models.JobRequest
	dec := json.NewDecoder(bytes.NewReader(manifest))
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: failed to decode JSON: %v", ErrSchemaDrift, err)
	}

	if err := validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaDrift, err)
	}

	return &req, nil
}
