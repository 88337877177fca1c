package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/soltixdb/shardgate/internal/metadata"
	"github.com/soltixdb/shardgate/internal/registry"
	"github.com/soltixdb/shardgate/internal/topology"
	"github.com/soltixdb/shardgate/internal/utils"
)

func runClusters(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("clusters", flag.ContinueOnError)
	prefix := fs.String("prefix", "", "Only clusters whose name starts with prefix")
	limit := fs.Int("limit", 0, "Maximum number of clusters, 0 for all")
	if _, err := positional(fs, args, 0, usages["clusters"]); err != nil {
		return err
	}

	clusters, err := e.manager.FindClusters(ctx, regexp.MustCompile("^"+regexp.QuoteMeta(*prefix)), false)
	if err != nil {
		return err
	}
	if *limit > 0 && len(clusters) > *limit {
		clusters = clusters[:*limit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tSTRATEGY\tMODIFIED")
	for _, c := range clusters {
		rec := c.Record()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rec.Name, rec.Status, rec.ShardStrategy, rec.LastModifyTime.Format(time.RFC3339))
	}
	return w.Flush()
}

func runShow(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	pos, err := positional(fs, args, 1, usages["show"])
	if err != nil {
		return err
	}
	cluster, err := e.manager.FindCluster(ctx, pos[0], true)
	if err != nil {
		return err
	}
	data, err := metadata.ExportTopology(cluster).YAML()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runApply(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("apply", flag.ContinueOnError)
	file := fs.String("f", "", "Topology YAML file")
	if _, err := positional(fs, args, 0, usages["apply"]); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("usage: clusterctl %s", usages["apply"])
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", *file, err)
	}
	f, err := metadata.ParseTopologyFile(data)
	if err != nil {
		return err
	}
	if err := e.manager.Apply(ctx, f); err != nil {
		return err
	}
	fmt.Printf("cluster %s applied (%d nodes)\n", f.Cluster.Name, len(f.Nodes))
	return nil
}

func runDeleteInstance(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("delete-instance", flag.ContinueOnError)
	pos, err := positional(fs, args, 3, usages["delete-instance"])
	if err != nil {
		return err
	}
	return e.manager.DeleteInstance(ctx, pos[0], pos[1], pos[2])
}

func runDeleteNode(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("delete-node", flag.ContinueOnError)
	pos, err := positional(fs, args, 2, usages["delete-node"])
	if err != nil {
		return err
	}
	return e.manager.DeleteNode(ctx, pos[0], pos[1])
}

func runDeleteCluster(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("delete-cluster", flag.ContinueOnError)
	pos, err := positional(fs, args, 1, usages["delete-cluster"])
	if err != nil {
		return err
	}
	return e.manager.DeleteCluster(ctx, pos[0])
}

func runStatus(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	pos, err := positional(fs, args, 1, usages["status"])
	if err != nil {
		return err
	}
	sm := e.manager.Status()

	control, err := sm.ClusterStatus(ctx, e.typ, pos[0])
	if err != nil {
		control = "-"
	}
	clients, err := sm.ClientStatuses(ctx, e.typ, pos[0])
	if err != nil {
		return err
	}
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "control\t%s\n", control)
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, clients[name])
	}
	return w.Flush()
}

func runSetStatus(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("set-status", flag.ContinueOnError)
	client := fs.String("client", "", "Write this client's channel instead of the control channel")
	pos, err := positional(fs, args, 2, usages["set-status"])
	if err != nil {
		return err
	}
	status, err := topology.ParseRehashStatus(pos[1])
	if err != nil {
		return err
	}
	if *client != "" {
		return e.manager.Status().UpdateClientStatus(ctx, e.typ, pos[0], *client, status)
	}
	return e.manager.Status().UpdateClusterStatus(ctx, e.typ, pos[0], status)
}

func runRehash(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("rehash", flag.ContinueOnError)
	ack := fs.Duration("ack-timeout", utils.RehashAckTimeout, "Time allowed for every client to acknowledge SYN")
	finish := fs.Duration("finish-timeout", utils.RehashFinishTimeout, "Time allowed for every client to switch")
	pos, err := positional(fs, args, 1, usages["rehash"])
	if err != nil {
		return err
	}

	ctl := metadata.NewRehashController(e.store, e.typ, e.logger)
	if err := ctl.Run(ctx, pos[0], metadata.RehashTimeouts{
		Ack:    *ack,
		Finish: *finish,
		Poll:   utils.RehashPollInterval,
	}); err != nil {
		return err
	}
	fmt.Printf("cluster %s rehashed\n", pos[0])
	return nil
}

func runRegisterInstance(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("register-instance", flag.ContinueOnError)
	cluster := fs.String("cluster", "", "Cluster name")
	node := fs.String("node", "", "Node name")
	name := fs.String("name", "", "Instance name")
	domain := fs.String("domain", "", "Instance host")
	port := fs.Int("port", 6379, "Instance port")
	role := fs.String("role", "MASTER", "MASTER, SLAVE or ALL")
	ephemeral := fs.Bool("ephemeral", false, "Bind the instance to a lease kept alive until interrupted")
	overwrite := fs.Bool("overwrite", false, "Replace an existing instance")
	if _, err := positional(fs, args, 0, usages["register-instance"]); err != nil {
		return err
	}
	if *cluster == "" || *node == "" || *name == "" || *domain == "" {
		return fmt.Errorf("usage: clusterctl %s", usages["register-instance"])
	}
	r, err := topology.ParseRole(*role)
	if err != nil {
		return err
	}

	svc := registry.NewService(e.store.Client(), e.typ, e.cfg.Etcd.SessionTTL, e.logger)
	defer svc.Close()

	inst := topology.NewInstance(topology.InstanceRecord{
		NodeName: *node,
		Name:     *name,
		Domain:   *domain,
		Port:     *port,
		MSStatus: r,
	})
	if err := svc.RegisterInstance(ctx, inst, *cluster, *overwrite, *ephemeral); err != nil {
		return err
	}
	fmt.Printf("instance %s/%s/%s registered at %s\n", *cluster, *node, *name, inst.Endpoint())

	if *ephemeral {
		fmt.Println("holding the lease, interrupt to unregister")
		<-ctx.Done()
	}
	return nil
}
