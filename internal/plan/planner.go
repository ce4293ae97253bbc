// Package plan derives every path a sync run creates. It is the single source
// of truth for the file list: dry runs and real runs compute their targets
// through the same Planner.
package plan

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/clean-dependency-project/itchmirror/internal/butler"
	"github.com/clean-dependency-project/itchmirror/internal/catalog"
)

// Role names what a planned path is for.
type Role string

const (
	RoleInstallFolder   Role = "install-folder"
	RoleStagingFolder   Role = "staging-folder"
	RoleCover           Role = "cover-asset"
	RoleThumbnail       Role = "thumbnail-asset"
	RoleGameMetadata    Role = "game-metadata"
	RoleCatalogMetadata Role = "catalog-metadata"
)

const (
	MetadataFileName  = "metadata.json"
	CoverBaseName     = "cover"
	ThumbnailBaseName = "still_cover"
	StagingDirName    = "staging"
)

// Path is one planned filesystem target.
type Path struct {
	Role Role
	Path string
}

// UploadPaths are the folders handed to the daemon for one upload.
type UploadPaths struct {
	InstallFolder string
	StagingFolder string
}

// Asset is an image to download. An empty URL means the asset is skipped.
type Asset struct {
	Role Role
	URL  string
	Path string
}

// AssetPaths holds the cover and thumbnail plans of one game.
type AssetPaths struct {
	Cover     Asset
	Thumbnail Asset
}

// List returns the assets that will be fetched, cover first.
func (a AssetPaths) List() []Asset {
	var out []Asset
	for _, asset := range []Asset{a.Cover, a.Thumbnail} {
		if asset.URL != "" {
			out = append(out, asset)
		}
	}
	return out
}

// Planner computes paths under OutputRoot and TempRoot. Every planned path is
// also passed to OnPlan, which may be called from concurrent goroutines.
type Planner struct {
	OutputRoot string
	TempRoot   string
	OnPlan     func(Path)
}

func (p *Planner) emit(role Role, target string) {
	if p.OnPlan != nil {
		p.OnPlan(Path{Role: role, Path: target})
	}
}

// GameDir is the sanitized folder name of a game.
func GameDir(game catalog.Game) string {
	if name := Sanitize(game.Title); name != "" {
		return name
	}
	return fmt.Sprintf("game-%d", game.ID)
}

// UploadDir is the sanitized folder name of an upload: its display name, or
// its file name without a trailing ".zip".
func UploadDir(upload butler.Upload) string {
	if name := Sanitize(StripZip(upload.Name())); name != "" {
		return name
	}
	return fmt.Sprintf("upload-%d", upload.ID)
}

// PlanUploadPaths returns the install and staging folders of an upload.
func (p *Planner) PlanUploadPaths(game catalog.Game, upload butler.Upload) UploadPaths {
	rel := filepath.Join(GameDir(game), UploadDir(upload))
	paths := UploadPaths{
		InstallFolder: filepath.Join(p.OutputRoot, rel),
		StagingFolder: filepath.Join(p.TempRoot, StagingDirName, rel),
	}
	p.emit(RoleInstallFolder, paths.InstallFolder)
	p.emit(RoleStagingFolder, paths.StagingFolder)
	return paths
}

// PlanAssetPaths returns the cover and thumbnail targets of a game. The
// thumbnail falls back to the cover image; assets without a URL are skipped
// and not reported.
func (p *Planner) PlanAssetPaths(game catalog.Game) AssetPaths {
	dir := filepath.Join(p.OutputRoot, GameDir(game))
	var assets AssetPaths

	if u := game.CoverURL; u != "" {
		assets.Cover = Asset{Role: RoleCover, URL: u, Path: filepath.Join(dir, withExt(CoverBaseName, u))}
		p.emit(RoleCover, assets.Cover.Path)
	}
	if u := game.ThumbnailURL(); u != "" {
		assets.Thumbnail = Asset{Role: RoleThumbnail, URL: u, Path: filepath.Join(dir, withExt(ThumbnailBaseName, u))}
		p.emit(RoleThumbnail, assets.Thumbnail.Path)
	}
	return assets
}

// PlanMetadataPath returns the per-game metadata file.
func (p *Planner) PlanMetadataPath(game catalog.Game) string {
	target := filepath.Join(p.OutputRoot, GameDir(game), MetadataFileName)
	p.emit(RoleGameMetadata, target)
	return target
}

// PlanAggregateMetadataPath returns the catalog-wide metadata file.
func (p *Planner) PlanAggregateMetadataPath() string {
	target := filepath.Join(p.OutputRoot, MetadataFileName)
	p.emit(RoleCatalogMetadata, target)
	return target
}

// AssetExt returns the extension of the last path segment of rawURL, without
// the dot. A segment without a dot has no extension.
func AssetExt(rawURL string) string {
	segment := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		segment = u.Path
	}
	if segment == "" {
		return ""
	}
	segment = path.Base(segment)
	i := strings.LastIndex(segment, ".")
	if i < 0 || i == len(segment)-1 {
		return ""
	}
	return Sanitize(segment[i+1:])
}

func withExt(base, rawURL string) string {
	if ext := AssetExt(rawURL); ext != "" {
		return base + "." + ext
	}
	return base
}
