package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vburojevic/valet/internal/bundle"
)

// schemaTypes lists every NDJSON record type in output order.
var schemaTypes = []string{"bundle", "verify", "key", "error"}

// SchemaCmd outputs JSON Schema for valet output types
type SchemaCmd struct {
	Type []string `short:"t" help:"Output types to include (bundle,verify,key,error). Default: all"`
}

// Run executes the schema command
func (c *SchemaCmd) Run(globals *Globals) error {
	schemas := map[string]interface{}{
		"bundle": bundleSchema(),
		"verify": verifySchema(),
		"key":    keySchema(),
		"error":  errorSchema(),
	}

	typesToOutput := c.Type
	if len(typesToOutput) == 0 {
		typesToOutput = schemaTypes
	}

	output := map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "Valet Output Schemas",
		"description": "JSON Schema definitions for all valet NDJSON output types",
		"definitions": map[string]interface{}{},
	}

	defs := output["definitions"].(map[string]interface{})
	for _, t := range typesToOutput {
		t = strings.ToLower(strings.TrimSpace(t))
		schema, ok := schemas[t]
		if !ok {
			return outputErrorCommon(globals, codeInvalidFlags, fmt.Sprintf("unknown schema type: %s", t), "use one of "+strings.Join(schemaTypes, ","))
		}
		defs[t] = schema
	}

	encoder := json.NewEncoder(globals.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func recordHeader(recordType string) map[string]interface{} {
	return map[string]interface{}{
		"type": map[string]interface{}{
			"type":  "string",
			"const": recordType,
		},
		"schemaVersion": map[string]interface{}{
			"type":        "integer",
			"description": "Version of this record shape",
		},
	}
}

func withHeader(recordType string, props map[string]interface{}) map[string]interface{} {
	out := recordHeader(recordType)
	for k, v := range props {
		out[k] = v
	}
	return out
}

func hexHash(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"pattern":     "^[0-9a-f]{64}$",
		"description": description,
	}
}

func bundleSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Bundle",
		"description": "A HALO bundle written by record, snapshot or exec",
		"properties": withHeader("bundle", map[string]interface{}{
			"mode": map[string]interface{}{
				"type": "string",
				"enum": []string{"record", "snapshot"},
			},
			"id": map[string]interface{}{
				"type":        "string",
				"description": "Session or snapshot id",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path of the .halo archive",
			},
			"bundle_hash":     hexHash("SHA-256 over the canonical manifest and receipt"),
			"transcript_hash": hexHash("SHA-256 of events.json (record mode)"),
			"payload_hash":    hexHash("SHA-256 of the canonical payload (snapshot mode)"),
			"events": map[string]interface{}{
				"type":        "integer",
				"description": "Number of recorded events (record mode)",
			},
			"key_id": map[string]interface{}{
				"type":        "string",
				"description": "Signing key id, or noop when unsigned",
			},
			"signed": map[string]interface{}{
				"type":        "boolean",
				"description": "True when the receipt carries an Ed25519 signature",
			},
		}),
		"required": []string{"type", "schemaVersion", "mode", "id", "path", "bundle_hash", "key_id", "signed"},
	}
}

func verifySchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Verification Report",
		"description": "Result of verifying one bundle",
		"properties": withHeader("verify", map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
			"mode": map[string]interface{}{
				"type": "string",
				"enum": []string{"record", "snapshot"},
			},
			"ok": map[string]interface{}{
				"type":        "boolean",
				"description": "True when no check failed",
			},
			"checks": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"name": map[string]interface{}{
							"type": "string",
							"enum": []string{
								bundle.CheckManifest,
								bundle.CheckMeta,
								bundle.CheckReceipt,
								bundle.CheckEvents,
								bundle.CheckPayload,
								bundle.CheckRawContent,
								bundle.CheckAttachments,
								bundle.CheckBundleHash,
								bundle.CheckEventChain,
								bundle.CheckEventSummaries,
								bundle.CheckTranscriptHash,
								bundle.CheckPayloadHash,
								bundle.CheckSignature,
							},
						},
						"status": map[string]interface{}{
							"type": "string",
							"enum": []string{string(bundle.StatusPass), string(bundle.StatusFail), string(bundle.StatusSkip)},
						},
						"detail": map[string]interface{}{"type": "string"},
					},
					"required": []string{"name", "status"},
				},
			},
		}),
		"required": []string{"type", "schemaVersion", "path", "ok", "checks"},
	}
}

func keySchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Signing Key",
		"description": "Ed25519 key pair generated by keygen",
		"properties": withHeader("key", map[string]interface{}{
			"key_id": map[string]interface{}{"type": "string"},
			"private_key_b64": map[string]interface{}{
				"type":        "string",
				"description": "32-byte seed, base64url without padding",
			},
			"public_key_b64": map[string]interface{}{
				"type":        "string",
				"description": "32-byte public key, base64url without padding",
			},
		}),
		"required": []string{"type", "schemaVersion", "key_id", "private_key_b64", "public_key_b64"},
	}
}

func errorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"title":       "Error",
		"description": "Error message from valet",
		"properties": withHeader("error", map[string]interface{}{
			"code": map[string]interface{}{
				"type":        "string",
				"description": "Error code (e.g., INVALID_STATE, VERIFY_FAILED)",
				"enum":        errorCodes,
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Human-readable error description",
			},
			"hint": map[string]interface{}{
				"type":        "string",
				"description": "Suggested fix",
			},
		}),
		"required": []string{"type", "schemaVersion", "code", "message"},
	}
}
