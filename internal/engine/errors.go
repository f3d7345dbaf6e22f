package engine

import (
	"errors"
	"net/http"

	"github.com/mattjoyce/previewd/internal/artifact"
	"github.com/mattjoyce/previewd/internal/builder"
	"github.com/mattjoyce/previewd/internal/fileset"
	"github.com/mattjoyce/previewd/internal/guard"
	"github.com/mattjoyce/previewd/internal/workspace"
)

// Error kinds exposed to API clients and persisted on build records.
const (
	KindValidation       = "validation_error"
	KindQuota            = "quota_error"
	KindStaging          = "staging_error"
	KindToolchainMissing = "toolchain_missing"
	KindBuild            = "build_error"
	KindTimeout          = "timeout"
	KindNoArtifact       = "no_artifact"
	KindInternal         = "internal_error"
)

// ClassifyError maps a build failure to its machine-readable kind and the
// HTTP status the API should answer with.
func ClassifyError(err error) (kind string, status int) {
	var (
		validationErr *fileset.ValidationError
		quotaErr      *guard.QuotaError
		stagingErr    *workspace.StagingError
		toolchainErr  *builder.ToolchainMissingError
		buildErr      *builder.BuildError
		timeoutErr    *builder.TimeoutError
		artifactErr   *artifact.NoArtifactError
	)
	switch {
	case errors.As(err, &validationErr):
		return KindValidation, http.StatusBadRequest
	case errors.As(err, &quotaErr):
		return KindQuota, http.StatusInsufficientStorage
	case errors.As(err, &stagingErr):
		return KindStaging, http.StatusInternalServerError
	case errors.As(err, &toolchainErr):
		return KindToolchainMissing, http.StatusInternalServerError
	case errors.As(err, &buildErr):
		return KindBuild, http.StatusUnprocessableEntity
	case errors.As(err, &timeoutErr):
		return KindTimeout, http.StatusGatewayTimeout
	case errors.As(err, &artifactErr):
		return KindNoArtifact, http.StatusUnprocessableEntity
	default:
		return KindInternal, http.StatusInternalServerError
	}
}
