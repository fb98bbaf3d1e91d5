package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/architect-io/modrun/pkg/artifact"
	"github.com/architect-io/modrun/pkg/build"
	"github.com/architect-io/modrun/pkg/build/interpreter"
	"github.com/architect-io/modrun/pkg/build/toolchain"
	"github.com/architect-io/modrun/pkg/build/witprovider"
	"github.com/architect-io/modrun/pkg/driver/function"
	"github.com/architect-io/modrun/pkg/driver/functionvm"
	"github.com/architect-io/modrun/pkg/policy"
	"github.com/architect-io/modrun/pkg/runtime"
	"github.com/architect-io/modrun/pkg/server"
)

const defaultPort = 8081

func newServeCmd() *cobra.Command {
	var (
		port        int
		policyFile  string
		witRepo     string
		witRef      string
		witCacheDir string
		image       string
		interpDir   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Runtime service",
		Long: `serve starts a modrun instance running the Runtime service (instantiating
and running modules), listening on PORT for the Remote Driver's peer
protocol. The listener accepts only the runtime peer operations (ping,
instantiate_module, run_module, drop_instance); the Build service
operations (BuildComponent, ReadComponent, BundleSourceCode) are not
exposed. Inline source is compiled in-process by the Builder when the
Function Driver prepares it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("port") {
				if envPort := os.Getenv(EnvPort); envPort != "" {
					if _, err := fmt.Sscanf(envPort, "%d", &port); err != nil {
						return configErr(fmt.Errorf("invalid %s: %w", EnvPort, err))
					}
				}
			}
			return runServe(serveOptions{
				port:        port,
				policyFile:  policyFile,
				witRepo:     witRepo,
				witRef:      witRef,
				witCacheDir: witCacheDir,
				image:       image,
				interpDir:   interpDir,
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", defaultPort, "listener port")
	cmd.Flags().StringVar(&policyFile, "policy", "", "path to an HCL policy document (default: permissive baseline)")
	cmd.Flags().StringVar(&witRepo, "wit-repo", "", "git URL for the target->WIT-file-set mapping")
	cmd.Flags().StringVar(&witRef, "wit-ref", "main", "git ref to check out WIT definitions from")
	cmd.Flags().StringVar(&witCacheDir, "wit-cache", "", "local cache directory for the checked-out WIT repository")
	cmd.Flags().StringVar(&image, "toolchain-image", "", "componentizer toolchain container image")
	cmd.Flags().StringVar(&interpDir, "interpreter-dir", "", "directory containing pre-built interpreter components")

	return cmd
}

type serveOptions struct {
	port        int
	policyFile  string
	witRepo     string
	witRef      string
	witCacheDir string
	image       string
	interpDir   string
}

func runServe(opts serveOptions) error {
	log, err := zap.NewProduction()
	if err != nil {
		return configErr(fmt.Errorf("failed to build logger: %w", err))
	}
	defer log.Sync()

	backendName := viper.GetString("backend")
	backend, err := artifact.New(backendName, backendConfig())
	if err != nil {
		return configErr(fmt.Errorf("failed to construct artifact backend %q: %w", backendName, err))
	}
	artifacts := artifact.NewStore(backend)

	dockerClient, err := toolchain.NewClient()
	if err != nil {
		return configErr(err)
	}
	witProvider := witprovider.NewProvider(opts.witRepo, opts.witRef, opts.witCacheDir)
	builder := build.NewBuilder(dockerClient, witProvider, artifacts, opts.image, log)

	functionDriver := function.NewDriver(artifacts, builder)
	functionVMDriver := functionvm.NewDriver(interpreter.NewDiskProvider(opts.interpDir))

	pol := policy.WithDefaults()
	if opts.policyFile != "" {
		pol, err = policy.LoadHCL(opts.policyFile)
		if err != nil {
			return configErr(err)
		}
	}

	rt := runtime.New(runtime.Config{
		FunctionDriver:   functionDriver,
		FunctionVMDriver: functionVMDriver,
		Policy:           pol,
		Context:          policy.Context{Environment: policy.Server},
		Log:              log,
	})

	srv := server.New(rt, log)

	addr := fmt.Sprintf(":%d", opts.port)
	log.Info("modrun serving", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, srv); err != nil {
		return runtimeErr(err)
	}
	return nil
}

func backendConfig() map[string]string {
	raw := viper.GetStringSlice("backend-config")
	cfg := make(map[string]string, len(raw))
	for _, kv := range raw {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				cfg[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return cfg
}
