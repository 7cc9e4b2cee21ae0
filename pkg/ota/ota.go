// Package ota resolves the components requested for an over-the-air update
// into matched new/old image lists and drives the OTA package generator.
package ota

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ws63-tools/fwpack/pkg/errors"
)

// Component names accepted in a package request, in resolution order.
const (
	ComponentApp  = "app"
	ComponentTest = "test"
	ComponentBoot = "boot"
	ComponentNV   = "nv"
)

// Image roles understood by the OTA generator.
const (
	RoleApplication = "application"
	RoleFlashBoot   = "flashboot"
	RoleNV          = "nv"
)

var resolutionOrder = []struct {
	component string
	role      string
}{
	{ComponentApp, RoleApplication},
	{ComponentTest, RoleApplication},
	{ComponentBoot, RoleFlashBoot},
	{ComponentNV, RoleNV},
}

// Image file names inside a binary tree. The application image is named
// after the product, see AppImage.
const (
	DefaultProduct = "ws63-liteos-app"
	TestImage      = "ws63-liteos-testsuite_sign.bin"
	FlashBootImage = "flashboot_sign.bin"
	NVImage        = "ws63_all_nv.bin"
)

// Tree maps component names to binary paths in one binary root.
type Tree map[string]string

// AppImage returns the signed application image name for product.
func AppImage(product string) string {
	if product == "" {
		product = DefaultProduct
	}
	return product + "_sign.bin"
}

// NewTree returns the standard image paths under root for product.
func NewTree(root, product string) Tree {
	return Tree{
		ComponentApp:  filepath.Join(root, AppImage(product)),
		ComponentTest: filepath.Join(root, TestImage),
		ComponentBoot: filepath.Join(root, FlashBootImage),
		ComponentNV:   filepath.Join(root, NVImage),
	}
}

// RootInfo exposes the per-component binary paths of the new and old trees.
type RootInfo struct {
	New Tree
	Old Tree
}

// Entry is one image of an image list.
type Entry struct {
	Path string
	Role string
}

// ImageLists are the positionally matched new and old image lists.
type ImageLists struct {
	New []Entry
	Old []Entry
}

// NewImages renders the new list as path=role|path=role.
func (l ImageLists) NewImages() string { return join(l.New) }

// OldImages renders the old list as path=role|path=role.
func (l ImageLists) OldImages() string { return join(l.Old) }

func join(entries []Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Path + "=" + e.Role
	}
	return strings.Join(parts, "|")
}

// ParseComponents splits a comma separated component request.
func ParseComponents(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Resolve builds the image lists for the requested components. Components
// are taken in the fixed order app, test, boot, nv regardless of request
// order. A component without a path in either tree is left out of both lists.
func Resolve(components []string, info RootInfo) ImageLists {
	requested := make(map[string]bool, len(components))
	for _, c := range components {
		requested[c] = true
	}

	var lists ImageLists
	for _, r := range resolutionOrder {
		if !requested[r.component] {
			continue
		}
		newPath, oldPath := info.New[r.component], info.Old[r.component]
		if newPath == "" || oldPath == "" {
			slog.Warn("ota_component_unmapped", "component", r.component)
			continue
		}
		lists.New = append(lists.New, Entry{Path: newPath, Role: r.role})
		lists.Old = append(lists.Old, Entry{Path: oldPath, Role: r.role})
	}
	return lists
}

// Request configures one OTA package generation.
type Request struct {
	NewImages      string `yaml:"new_images"`
	OldImages      string `yaml:"old_images"`
	OutputDir      string `yaml:"output_dir"`
	TemplateConfig string `yaml:"template_config"`
	BaseConfig     string `yaml:"base_config"`
	TempDir        string `yaml:"temp_dir"`
	PackageType    int    `yaml:"package_type"`
	AppName        string `yaml:"app_name"`
	FormatPath     string `yaml:"format_path"`
}

// Generator produces OTA package files from a request.
type Generator interface {
	Generate(ctx context.Context, req Request) error
}

// Paths locates the generator configuration for a package build.
type Paths struct {
	// InputDir holds the new images and the base fota.cfg.
	InputDir string
	// OutputDir receives the packages.
	OutputDir string
	// ConfigDir holds fota_template.cfg and the package structure files.
	ConfigDir string
}

// Builder resolves requests and hands them to a Generator.
type Builder struct {
	paths     Paths
	generator Generator
}

// NewBuilder creates an OTA package builder.
func NewBuilder(paths Paths, generator Generator) *Builder {
	return &Builder{paths: paths, generator: generator}
}

// Request builds the generator request for the resolved lists.
func (b *Builder) Request(lists ImageLists) Request {
	return Request{
		NewImages:      lists.NewImages(),
		OldImages:      lists.OldImages(),
		OutputDir:      b.paths.OutputDir,
		TemplateConfig: filepath.Join(b.paths.ConfigDir, "fota_template.cfg"),
		BaseConfig:     filepath.Join(b.paths.InputDir, "fota.cfg"),
		TempDir:        filepath.Join(b.paths.OutputDir, "tmp_ota_cfg"),
		PackageType:    0,
		AppName:        "update_encry",
		FormatPath:     b.paths.ConfigDir,
	}
}

// Build resolves components against info and generates the package.
func (b *Builder) Build(ctx context.Context, components []string, info RootInfo) (Request, error) {
	lists := Resolve(components, info)
	req := b.Request(lists)

	slog.Info("ota_generate_start",
		"components", strings.Join(components, ","),
		"images", len(lists.New),
		"output_dir", req.OutputDir)

	if err := b.generator.Generate(ctx, req); err != nil {
		slog.Error("ota_generate_failed", "output_dir", req.OutputDir, "error", err)
		return req, errors.Wrap(err, "OTA package generation failed")
	}

	slog.Info("ota_generate_complete", "output_dir", req.OutputDir)
	return req, nil
}
