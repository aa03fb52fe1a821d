/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics/filters"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
	ctrlwebhook "sigs.k8s.io/controller-runtime/pkg/webhook"

	"github.com/numtide/annotation-injector/pkg/cert"
	"github.com/numtide/annotation-injector/pkg/config"
	"github.com/numtide/annotation-injector/pkg/monitoring"
	"github.com/numtide/annotation-injector/pkg/mutation"
	injectorwebhook "github.com/numtide/annotation-injector/pkg/webhook"
)

// version is set at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 15 * time.Second

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(admissionregistrationv1.AddToScheme(scheme))
}

func main() {
	if err := run(); err != nil {
		setupLog.Error(err, "problem running annotation injector")
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var metricsAddr string
	var healthAddr string
	var secureMetrics bool
	var enableHTTP2 bool
	var legacyUnescapedPaths bool
	var tlsOpts []func(*tls.Config)

	// Webhook Flags
	var webhookPort int
	var webhookCertDir string
	var webhookServiceNamespace string
	var webhookServiceName string
	var webhookCASecretName string
	var mutatingWebhookConfig string

	defaultNS := os.Getenv("POD_NAMESPACE")
	if defaultNS == "" {
		defaultNS = "annotation-injector-system"
	}

	// General Flags
	flag.StringVar(&configPath, "config", "", "Path to the YAML policy file.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8443", "The address the metrics endpoint binds to. Use 0 to disable.")
	flag.StringVar(&healthAddr, "health-probe-bind-address", ":8081", "The address the health endpoints bind to.")
	flag.BoolVar(&secureMetrics, "metrics-secure", true, "If set, the metrics endpoint is served securely via HTTPS.")
	flag.BoolVar(&enableHTTP2, "enable-http2", false, "If set, HTTP/2 will be enabled for the metrics and webhook servers")
	flag.BoolVar(&legacyUnescapedPaths, "legacy-unescaped-paths", false,
		"Emit the annotation key unescaped in JSON Patch paths (overrides the config file when set)")

	// Webhook Flag Configuration
	flag.IntVar(&webhookPort, "webhook-port", 9443, "Port the webhook server listens on")
	flag.StringVar(&webhookCertDir, "webhook-cert-dir", "/var/run/secrets/webhook", "Directory to store/read webhook certificates")
	flag.StringVar(&webhookServiceNamespace, "webhook-service-namespace", defaultNS, "Namespace where the webhook service resides")
	flag.StringVar(&webhookServiceName, "webhook-service-name", "annotation-injector-webhook-service", "Name of the Kubernetes Service for the webhook")
	flag.StringVar(&webhookCASecretName, "webhook-ca-secret", "annotation-injector-webhook-ca",
		"Secret holding the self-signed webhook CA")
	flag.StringVar(&mutatingWebhookConfig, "mutating-webhook-configuration", "",
		"MutatingWebhookConfiguration whose caBundle is patched with a self-generated CA")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	// 1. Load Policy
	cfg, err := config.Load(configPath, os.LookupEnv)
	if err != nil {
		return fmt.Errorf("unable to load configuration: %w", err)
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "legacy-unescaped-paths" {
			cfg.LegacyUnescapedPaths = legacyUnescapedPaths
		}
	})
	engine := mutation.NewEngine(cfg.EngineOptions())
	setupLog.Info("loaded policy", "overwrite", engine.Overwrite(), "keyPath", engine.KeyPath())

	ctx := ctrl.SetupSignalHandler()

	shutdownTracing, err := monitoring.InitTracing(ctx, "annotation-injector", version)
	if err != nil {
		return fmt.Errorf("unable to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			setupLog.Error(err, "failed to flush traces")
		}
	}()

	// 2. Manager
	disableHTTP2 := func(c *tls.Config) {
		setupLog.Info("disabling http/2")
		c.NextProtos = []string{"http/1.1"}
	}
	if !enableHTTP2 {
		tlsOpts = append(tlsOpts, disableHTTP2)
	}

	metricsServerOptions := metricsserver.Options{
		BindAddress:   metricsAddr,
		SecureServing: secureMetrics,
		TLSOpts:       tlsOpts,
	}

	if secureMetrics {
		metricsServerOptions.FilterProvider = filters.WithAuthenticationAndAuthorization
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsServerOptions,
		HealthProbeBindAddress: healthAddr,
		WebhookServer: ctrlwebhook.NewServer(ctrlwebhook.Options{
			Port:    webhookPort,
			CertDir: webhookCertDir,
			TLSOpts: tlsOpts,
		}),
		Client: client.Options{
			// Disable caching for resources we need during bootstrap/cert rotation
			Cache: &client.CacheOptions{
				DisableFor: []client.Object{
					&corev1.Secret{},
					&admissionregistrationv1.MutatingWebhookConfiguration{},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("unable to start manager: %w", err)
	}

	// 3. Auto-Detect Certificate Strategy
	// Certificates mounted by cert-manager are used as-is. An empty cert dir, or a
	// webhook configuration already carrying our own CA, enables internal rotation.
	// Use a temporary client for bootstrap since mgr.Client isn't started yet
	tmpClient, err := client.New(mgr.GetConfig(), client.Options{Scheme: scheme})
	if err != nil {
		return fmt.Errorf("failed to create bootstrap client: %w", err)
	}

	useInternalCerts := !cert.CertsExist(webhookCertDir)
	if !useInternalCerts {
		useInternalCerts, err = injectorwebhook.HasSelfSignedCA(ctx, tmpClient, mutatingWebhookConfig)
		if err != nil {
			return fmt.Errorf("failed to detect certificate strategy: %w", err)
		}
	}

	if useInternalCerts {
		setupLog.Info("enabling internal certificate rotation", "dir", webhookCertDir, "secret", webhookCASecretName)

		rotator := cert.NewManager(tmpClient, mgr.GetEventRecorderFor("annotation-injector"), cert.Options{
			Namespace:    webhookServiceNamespace,
			ServiceName:  webhookServiceName,
			CASecretName: webhookCASecretName,
			CertDir:      webhookCertDir,
		})
		if mutatingWebhookConfig != "" {
			rotator.Options.PostReconcileHook = func(ctx context.Context, caBundle []byte) error {
				return injectorwebhook.PatchMutatingWebhookCABundle(ctx, rotator.Client, mutatingWebhookConfig, caBundle)
			}
		}

		// Bootstrap immediately to unblock Webhook Server start
		bootstrapCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := rotator.Bootstrap(bootstrapCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to bootstrap certificates: %w", err)
		}

		// We switch the client to the Manager's client for the long-running process
		rotator.Client = mgr.GetClient()
		if err := mgr.Add(rotator); err != nil {
			return fmt.Errorf("unable to add cert rotator to manager: %w", err)
		}
	} else {
		setupLog.Info("webhook certificates found on disk; using external certificate management", "dir", webhookCertDir)
	}

	// 4. Register Webhook Handlers
	if err := injectorwebhook.Setup(mgr.GetWebhookServer(), injectorwebhook.Options{
		Engine: engine,
		Logger: mgr.GetLogger().WithName("webhook"),
	}); err != nil {
		return fmt.Errorf("unable to set up webhook: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("webhook", mgr.GetWebhookServer().StartedChecker()); err != nil {
		return fmt.Errorf("unable to set up ready check: %w", err)
	}

	setupLog.Info("starting manager", "port", webhookPort)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("problem running manager: %w", err)
	}
	return nil
}
