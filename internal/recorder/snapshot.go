package recorder

import (
	"go.uber.org/zap"

	"github.com/vburojevic/valet/internal/bundle"
	"github.com/vburojevic/valet/internal/canonical"
	"github.com/vburojevic/valet/internal/chain"
	"github.com/vburojevic/valet/internal/domain"
)

// CreateSnapshot records payload as a single signed snapshot and writes its
// bundle into outputDir. There is no intermediate state: a failure leaves
// nothing behind.
func CreateSnapshot(payload any, outputDir, machineID string, opts ...Option) (string, *domain.SnapshotReceipt, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return "", nil, err
	}

	normalized, err := canonical.Normalize(payload)
	if err != nil {
		return "", nil, wrapEncoding(err)
	}
	payloadHash, err := chain.PayloadHash(normalized)
	if err != nil {
		return "", nil, err
	}

	snapshotType := o.snapshotType
	if snapshotType == "" {
		snapshotType = domain.DefaultSnapshotType
	}
	capturedAt := o.now()

	receipt := domain.SnapshotReceipt{
		SchemaVersion: domain.SnapshotSchemaVersion,
		SnapshotID:    o.newID(),
		CapturedAt:    capturedAt,
		Issuer: domain.Issuer{
			Service: o.service,
			KeyID:   o.signer.KeyID(),
		},
		Subject:              o.subjectFor(machineID),
		Type:                 snapshotType,
		Payload:              normalized,
		PayloadHash:          payloadHash,
		BundleManifestSchema: domain.ManifestSchemaVersion,
		Signatures:           []domain.SignatureBlock{},
		BundleHash:           "",
	}

	sig, err := sign(o.signer, receipt)
	if err != nil {
		return "", nil, err
	}
	if sig != nil {
		receipt.Signatures = []domain.SignatureBlock{*sig}
	}

	path, final, err := bundle.ExportSnapshot(outputDir, bundle.Snapshot{
		Receipt:   receipt,
		Payload:   normalized,
		RawText:   o.rawText,
		SourceURL: o.sourceURL,
		MachineID: machineID,
		CreatedAt: capturedAt,
	})
	if err != nil {
		return "", nil, err
	}

	o.logger.Info("snapshot exported",
		zap.String("snapshot_id", receipt.SnapshotID),
		zap.String("path", path),
		zap.String("type", snapshotType),
		zap.String("bundle_hash", final.BundleHash))
	return path, final, nil
}
