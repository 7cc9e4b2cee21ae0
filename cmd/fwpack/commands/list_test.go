package commands

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ws63-tools/fwpack/pkg/db"
)

func TestReconcileRemote(t *testing.T) {
	keys := []string{"fw/ws63-liteos-app_all.fwpkg", "fw/stray.bin"}
	artifacts := []*db.Artifact{
		{Path: "out/ws63-liteos-app_all.fwpkg", RemoteKey: "fw/ws63-liteos-app_all.fwpkg"},
		{Path: "out/efuse_cfg.bin", RemoteKey: "fw/efuse_cfg.bin"},
		{Path: "out/ws63-liteos-app_only.fwpkg"},
	}

	var got []string
	for _, e := range reconcileRemote(keys, artifacts) {
		got = append(got, e.Key+" "+e.State()+" "+e.Path)
	}
	want := []string{
		"fw/efuse_cfg.bin missing out/efuse_cfg.bin",
		"fw/stray.bin untracked ",
		"fw/ws63-liteos-app_all.fwpkg tracked out/ws63-liteos-app_all.fwpkg",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reconcileRemote mismatch (-want +got):\n%s", diff)
	}
}
