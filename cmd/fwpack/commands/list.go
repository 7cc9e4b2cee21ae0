package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/ws63-tools/fwpack/internal/config"
	"github.com/ws63-tools/fwpack/pkg/db"
	"github.com/ws63-tools/fwpack/pkg/errors"
)

var (
	listStatus string
	listRemote bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List produced artifacts and their status",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listStatus, "status", "", "Only show artifacts in this status")
	listCmd.Flags().BoolVar(&listRemote, "remote", false, "Compare the bucket contents with the ledger")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	if listRemote {
		return listRemoteObjects(context.Background(), cfg, repo)
	}

	var artifacts []*db.Artifact
	if listStatus != "" {
		artifacts, err = repo.ListByStatus(listStatus)
	} else {
		artifacts, err = repo.List()
	}
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(artifacts) == 0 {
		fmt.Println("No artifacts found")
		return nil
	}

	fmt.Printf("%-50s %-8s %-10s %-10s %-18s %s\n", "PATH", "KIND", "STATUS", "SIZE", "SHA256", "REMOTE")
	fmt.Println("------------------------------------------------------------------------------------------------------------------")
	for _, a := range artifacts {
		sum := "-"
		if len(a.SHA256) >= 16 {
			sum = a.SHA256[:16]
		}
		remote := a.RemoteKey
		if remote == "" {
			remote = "-"
		}
		fmt.Printf("%-50s %-8s %-10s %-10s %-18s %s\n",
			a.Path, a.Kind, a.Status, humanize.IBytes(uint64(a.Size)), sum, remote)
		if a.ErrorMessage != "" {
			fmt.Printf("    error: %s\n", a.ErrorMessage)
		}
	}
	return nil
}

// remoteEntry is one key seen in the bucket, the ledger, or both.
type remoteEntry struct {
	Key    string
	Path   string
	Remote bool
}

// State is "tracked" for keys in both places, "untracked" for objects the
// ledger does not know and "missing" for published artifacts whose object
// is gone.
func (e remoteEntry) State() string {
	switch {
	case e.Remote && e.Path != "":
		return "tracked"
	case e.Remote:
		return "untracked"
	default:
		return "missing"
	}
}

// reconcileRemote matches bucket keys against the ledger's published keys.
func reconcileRemote(keys []string, artifacts []*db.Artifact) []remoteEntry {
	byKey := make(map[string]*remoteEntry)
	for _, k := range keys {
		byKey[k] = &remoteEntry{Key: k, Remote: true}
	}
	for _, a := range artifacts {
		if a.RemoteKey == "" {
			continue
		}
		if e, ok := byKey[a.RemoteKey]; ok {
			e.Path = a.Path
			continue
		}
		byKey[a.RemoteKey] = &remoteEntry{Key: a.RemoteKey, Path: a.Path}
	}

	entries := make([]remoteEntry, 0, len(byKey))
	for _, e := range byKey {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

func listRemoteObjects(ctx context.Context, cfg *config.Config, repo *db.Repository) error {
	client, err := newStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if client == nil {
		return errors.Newf(errors.ErrConfigMissing, "s3-bucket is required to list remote objects")
	}
	keys, err := client.ListObjects(ctx)
	if err != nil {
		return err
	}
	artifacts, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	entries := reconcileRemote(keys, artifacts)
	if len(entries) == 0 {
		fmt.Println("No remote objects found")
		return nil
	}
	fmt.Printf("%-50s %-10s %s\n", "KEY", "STATE", "PATH")
	for _, e := range entries {
		p := e.Path
		if p == "" {
			p = "-"
		}
		fmt.Printf("%-50s %-10s %s\n", e.Key, e.State(), p)
	}
	return nil
}
