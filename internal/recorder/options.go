package recorder

import (
	"os"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vburojevic/valet/internal/signer"
)

// DefaultService is the issuer service name.
const DefaultService = "valet"

// TimestampLayout is the second-precision UTC layout of every recorded time.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Option configures a Session or a snapshot.
type Option func(*options)

type options struct {
	clock        clock.Clock
	newID        func() string
	signer       signer.Signer
	subject      map[string]any
	logger       *zap.Logger
	service      string
	sourceURL    string
	rawText      string
	snapshotType string
}

func defaultOptions() options {
	return options{
		clock:   clock.New(),
		newID:   uuid.NewString,
		logger:  zap.NewNop(),
		service: DefaultService,
	}
}

func buildOptions(opts []Option) (options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.signer == nil {
		s, err := signer.FromEnv()
		if err != nil {
			return o, err
		}
		if signer.PartiallyConfigured(os.Getenv(signer.EnvKeyID), os.Getenv(signer.EnvPrivateKey)) {
			o.logger.Warn("signing key partially configured; receipts will be unsigned",
				zap.String("key_id_var", signer.EnvKeyID),
				zap.String("key_var", signer.EnvPrivateKey))
		}
		o.signer = s
	}
	return o, nil
}

func (o options) now() string {
	return o.clock.Now().UTC().Format(TimestampLayout)
}

// subjectFor merges caller metadata over {"machine_id": machineID}.
func (o options) subjectFor(machineID string) map[string]any {
	subject := map[string]any{"machine_id": machineID}
	for k, v := range o.subject {
		subject[k] = v
	}
	return subject
}

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithIDGenerator injects the session/snapshot id source.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithSigner fixes the signer instead of resolving it from the environment.
func WithSigner(s signer.Signer) Option {
	return func(o *options) { o.signer = s }
}

// WithSubject adds metadata describing the recorded machine or environment.
func WithSubject(meta map[string]any) Option {
	return func(o *options) { o.subject = meta }
}

// WithLogger sets the logger. Logs never end up inside bundles.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithService overrides the issuer service name.
func WithService(name string) Option {
	return func(o *options) {
		if name != "" {
			o.service = name
		}
	}
}

// WithSourceURL records where the recorded content came from.
func WithSourceURL(u string) Option {
	return func(o *options) { o.sourceURL = u }
}

// WithRawText embeds unstructured source text in a snapshot bundle.
func WithRawText(text string) Option {
	return func(o *options) { o.rawText = text }
}

// WithSnapshotType overrides the snapshot receipt type tag.
func WithSnapshotType(t string) Option {
	return func(o *options) { o.snapshotType = t }
}
