package webhook

import (
	"fmt"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/webhook"

	"github.com/numtide/annotation-injector/pkg/mutation"
	"github.com/numtide/annotation-injector/pkg/webhook/handlers"
)

// Options contains the configuration required to register the handlers.
type Options struct {
	// Engine makes every annotation decision. Required.
	Engine *mutation.Engine
	// Logger is handed to the simplified review handler.
	Logger logr.Logger
}

// Setup registers the admission handlers on server.
func Setup(server webhook.Server, opts Options) error {
	if opts.Engine == nil {
		return fmt.Errorf("webhook setup failed: engine cannot be nil")
	}
	if server == nil {
		return fmt.Errorf("webhook setup failed: server cannot be nil")
	}

	logger := opts.Logger.WithName("webhook-setup")
	logger.Info("Registering webhook handlers",
		"overwrite", opts.Engine.Overwrite(),
		"keyPath", opts.Engine.KeyPath(),
	)

	// -- Mutating Webhook (standard AdmissionReview) --
	server.Register(
		handlers.AdmissionPath,
		&webhook.Admission{
			Handler:         handlers.NewAnnotationInjector(opts.Engine),
			WithContextFunc: handlers.ExtractTraceContext,
		},
	)

	// -- Simplified review --
	server.Register(
		handlers.ReviewPath,
		handlers.NewReviewHandler(opts.Engine, opts.Logger.WithName("review")),
	)

	return nil
}
