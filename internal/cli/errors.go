package cli

import (
	"errors"

	"github.com/vburojevic/valet/internal/bundle"
	"github.com/vburojevic/valet/internal/output"
	"github.com/vburojevic/valet/internal/recorder"
	"github.com/vburojevic/valet/internal/signer"
)

// Error codes emitted in error records.
const (
	codeInvalidFlags   = "INVALID_FLAGS"
	codeInvalidInput   = "INVALID_INPUT"
	codeInvalidState   = "INVALID_STATE"
	codeInvalidKey     = "INVALID_KEY"
	codeEncodingFailed = "ENCODING_FAILED"
	codeExportFailed   = "EXPORT_FAILED"
	codeVerifyFailed   = "VERIFY_FAILED"
	codeCommandFailed  = "COMMAND_FAILED"
	codeConfigFailed   = "CONFIG_FAILED"
)

var errorCodes = []string{
	codeInvalidFlags,
	codeInvalidInput,
	codeInvalidState,
	codeInvalidKey,
	codeEncodingFailed,
	codeExportFailed,
	codeVerifyFailed,
	codeCommandFailed,
	codeConfigFailed,
}

// outputErrorCommon normalizes error emission across commands, respecting
// ndjson vs text formats so agents always get machine-readable failures.
func outputErrorCommon(globals *Globals, code, message string, hint ...string) error {
	if globals != nil && globals.Format == "ndjson" {
		_ = output.NewNDJSONWriter(globals.Stdout).WriteError(code, message, hint...)
	} else if globals != nil {
		_ = output.NewTextWriter(globals.Stderr).WriteError(code, message, hint...)
	}
	return errors.New(message)
}

// outputFailure reports err under the code errorCode derives from it.
func outputFailure(globals *Globals, err error, fallback string, hint ...string) error {
	return outputErrorCommon(globals, errorCode(err, fallback), err.Error(), hint...)
}

func errorCode(err error, fallback string) string {
	switch {
	case errors.Is(err, recorder.ErrInvalidState):
		return codeInvalidState
	case errors.Is(err, signer.ErrInvalidKey):
		return codeInvalidKey
	case errors.Is(err, recorder.ErrEncoding):
		return codeEncodingFailed
	case errors.Is(err, recorder.ErrInvalidAttachment), errors.Is(err, bundle.ErrInvalidID):
		return codeInvalidInput
	default:
		return fallback
	}
}
