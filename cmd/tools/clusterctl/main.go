package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/soltixdb/shardgate/internal/config"
	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/metadata"
	"github.com/soltixdb/shardgate/internal/topology"
)

var usages = map[string]string{
	"clusters":          "clusters [-prefix p] [-limit n]",
	"show":              "show <cluster>",
	"apply":             "apply -f topology.yaml",
	"delete-instance":   "delete-instance <cluster> <node> <instance>",
	"delete-node":       "delete-node <cluster> <node>",
	"delete-cluster":    "delete-cluster <cluster>",
	"status":            "status <cluster>",
	"set-status":        "set-status [-client name] <cluster> <status>",
	"rehash":            "rehash [-ack-timeout d] [-finish-timeout d] <cluster>",
	"register-instance": "register-instance -cluster c -node n -name i -domain h -port p [-role r] [-ephemeral] [-overwrite]",
}

var commands = map[string]func(ctx context.Context, env *env, args []string) error{
	"clusters":          runClusters,
	"show":              runShow,
	"apply":             runApply,
	"delete-instance":   runDeleteInstance,
	"delete-node":       runDeleteNode,
	"delete-cluster":    runDeleteCluster,
	"status":            runStatus,
	"set-status":        runSetStatus,
	"rehash":            runRehash,
	"register-instance": runRegisterInstance,
}

// env carries what every subcommand needs
type env struct {
	cfg     *config.Config
	store   *metadata.EtcdStore
	manager *metadata.ClusterManager
	typ     topology.ClusterType
	logger  *logging.Logger
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: clusterctl [-config file] [-endpoints a,b] [-type redis] <command> [args]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", usages[name])
	}
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	endpoints := flag.String("endpoints", "", "Comma separated etcd endpoints, overrides the config file")
	clusterType := flag.String("type", "", "Cluster type (redis, mongodb, mysql), overrides the config file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	run, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	cfg := config.LoadOrDefault(*configPath)
	if *endpoints != "" {
		cfg.Etcd.Endpoints = strings.Split(*endpoints, ",")
	}
	if *clusterType != "" {
		cfg.Client.ClusterType = *clusterType
	}

	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	store, err := metadata.NewEtcdStore(cfg.Etcd, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to etcd: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	e := &env{
		cfg:     cfg,
		store:   store,
		manager: metadata.NewClusterManager(store, cfg.Client.Type(), logger),
		typ:     cfg.Client.Type(),
		logger:  logger,
	}
	err = run(ctx, e, flag.Args()[1:])
	stop()
	_ = store.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// positional checks the argument count of a subcommand
func positional(fs *flag.FlagSet, args []string, want int, usage string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != want {
		return nil, fmt.Errorf("usage: clusterctl %s", usage)
	}
	return fs.Args(), nil
}
