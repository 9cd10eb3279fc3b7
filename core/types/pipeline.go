// Copyright 2025 The dreamforge Authors
// This file is part of the dreamforge library.
//
// The dreamforge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The dreamforge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dreamforge library. If not, see <http://www.gnu.org/licenses/>.

// Package types contains the persistent data model of the generation
// pipeline: the Pipeline record itself, its analysis and view sub-records,
// the credit transaction rows and the enumerations shared across packages.
package types

import (
	"time"
)

// Status is the lifecycle state of a Pipeline.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusGeneratingImages  Status = "generating-images"
	StatusImagesReady       Status = "images-ready"
	StatusGeneratingMesh    Status = "generating-mesh"
	StatusMeshReady         Status = "mesh-ready"
	StatusGeneratingTexture Status = "generating-texture"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
)

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusGeneratingImages, StatusImagesReady,
		StatusGeneratingMesh, StatusMeshReady, StatusGeneratingTexture,
		StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Generating reports whether s is one of the in-flight generating states.
func (s Status) Generating() bool {
	switch s {
	case StatusGeneratingImages, StatusGeneratingMesh, StatusGeneratingTexture:
		return true
	}
	return false
}

// BatchState is the sub-state projection of generating-images when the
// pipeline runs in batch mode.
type BatchState string

const (
	BatchNone       BatchState = ""
	BatchQueued     BatchState = "batch-queued"
	BatchProcessing BatchState = "batch-processing"
)

// Angle identifies one of the four synthesized object views.
type Angle string

const (
	AngleFront Angle = "front"
	AngleBack  Angle = "back"
	AngleLeft  Angle = "left"
	AngleRight Angle = "right"
)

// Angles lists the mesh view angles in canonical order. The order is load
// bearing: palette aggregation breaks frequency ties by first appearance in
// this order.
var Angles = []Angle{AngleFront, AngleBack, AngleLeft, AngleRight}

// Valid reports whether a is a member of the closed angle set.
func (a Angle) Valid() bool {
	switch a {
	case AngleFront, AngleBack, AngleLeft, AngleRight:
		return true
	}
	return false
}

// ProcessingMode selects between the synchronous fan-out and the slower
// asynchronous batch pool.
type ProcessingMode string

const (
	ModeRealtime ProcessingMode = "realtime"
	ModeBatch    ProcessingMode = "batch"
)

// Valid reports whether m is a member of the closed mode set.
func (m ProcessingMode) Valid() bool {
	return m == ModeRealtime || m == ModeBatch
}

// Style is a stylization preset applied to view generation.
type Style string

const (
	StyleNone       Style = "none"
	StyleBobblehead Style = "bobblehead"
	StyleChibi      Style = "chibi"
	StyleCartoon    Style = "cartoon"
	StyleEmoji      Style = "emoji"
)

// Valid reports whether s is a member of the closed style set.
func (s Style) Valid() bool {
	switch s {
	case StyleNone, StyleBobblehead, StyleChibi, StyleCartoon, StyleEmoji:
		return true
	}
	return false
}

// ImageSource records how a view slot was filled.
type ImageSource string

const (
	SourceAI     ImageSource = "ai"
	SourceUpload ImageSource = "upload"
)

// MeshFormat is a 3D model file format.
type MeshFormat string

const (
	FormatGLB MeshFormat = "glb"
	FormatFBX MeshFormat = "fbx"
	FormatOBJ MeshFormat = "obj"
	FormatSTL MeshFormat = "stl"
)

// FormatFallback is the download preference order used when a provider does
// not offer the requested format.
var FormatFallback = []MeshFormat{FormatGLB, FormatFBX, FormatOBJ, FormatSTL}

// Valid reports whether f is a member of the closed format set.
func (f MeshFormat) Valid() bool {
	switch f {
	case FormatGLB, FormatFBX, FormatOBJ, FormatSTL:
		return true
	}
	return false
}

// ContentType returns the MIME type used when storing a model of format f.
func (f MeshFormat) ContentType() string {
	switch f {
	case FormatGLB:
		return "model/gltf-binary"
	case FormatOBJ:
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// PrinterType is the physical printing process the analysis targets.
type PrinterType string

const (
	PrinterFDM   PrinterType = "fdm"
	PrinterSLA   PrinterType = "sla"
	PrinterResin PrinterType = "resin"
)

// Valid reports whether p is a member of the closed printer set.
func (p PrinterType) Valid() bool {
	switch p {
	case PrinterFDM, PrinterSLA, PrinterResin:
		return true
	}
	return false
}

// ProcessedImage is one stored view slot of a pipeline.
type ProcessedImage struct {
	URL          string      `json:"url"`
	StoragePath  string      `json:"storagePath"`
	Source       ImageSource `json:"source"`
	ColorPalette []string    `json:"colorPalette,omitempty"`
	GeneratedAt  time.Time   `json:"generatedAt"`
}

// AggregatedPalette is the frequency-ordered union of the per-view palettes.
type AggregatedPalette struct {
	Unified        []string `json:"unified"`
	DominantColors []string `json:"dominantColors"`
}

// Settings holds the user-tunable generation options of a pipeline.
type Settings struct {
	Quality         string            `json:"quality,omitempty"`
	PrinterType     PrinterType       `json:"printerType,omitempty"`
	Format          MeshFormat        `json:"format,omitempty"`
	Provider        string            `json:"provider,omitempty"`
	ProviderOptions map[string]string `json:"providerOptions,omitempty"`
	GenerationMode  string            `json:"generationMode,omitempty"`
	SelectedStyle   Style             `json:"selectedStyle,omitempty"`
	ColorCount      int               `json:"colorCount,omitempty"`
	GeminiModel     string            `json:"geminiModel,omitempty"`
}

// CreditsCharged tracks the credits debited per stage. A field is zeroed
// again when the matching debit has been refunded or explicitly reset.
type CreditsCharged struct {
	Views   int `json:"views"`
	Mesh    int `json:"mesh"`
	Texture int `json:"texture"`
}

// Total returns the sum over all stages.
func (c CreditsCharged) Total() int { return c.Views + c.Mesh + c.Texture }

// GenerationProgress is the client-visible progress of the view fan-out.
type GenerationProgress struct {
	Phase              string `json:"phase"` // "mesh-views" | "complete"
	MeshViewsCompleted int    `json:"meshViewsCompleted"`
}

// DownloadFile is one artifact offered by a provider for a finished task.
type DownloadFile struct {
	Format MeshFormat `json:"format"`
	URL    string     `json:"url"`
	Name   string     `json:"name"`
}

// Pipeline is the persistent record of one image-to-3D generation job. All
// mutation goes through the core engine's transition methods; optional
// fields are pointers or empty values with explicit presence checks at the
// transition preconditions.
type Pipeline struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Status Status `json:"status"`

	ProcessingMode ProcessingMode `json:"processingMode"`
	BatchState     BatchState     `json:"batchState,omitempty"`

	InputImages     []string       `json:"inputImages"`
	ImageAnalysis   *ImageAnalysis `json:"imageAnalysis,omitempty"`
	UserDescription string         `json:"userDescription,omitempty"`

	MeshImages       map[Angle]*ProcessedImage `json:"meshImages,omitempty"`
	AggregatedColors *AggregatedPalette        `json:"aggregatedColorPalette,omitempty"`

	Settings Settings `json:"settings"`

	ProviderTaskID          string `json:"providerTaskId,omitempty"`
	ProviderSubscriptionKey string `json:"providerSubscriptionKey,omitempty"`

	MeshURL           string         `json:"meshUrl,omitempty"`
	MeshStoragePath   string         `json:"meshStoragePath,omitempty"`
	MeshFormat        MeshFormat     `json:"meshFormat,omitempty"`
	MeshDownloadFiles []DownloadFile `json:"meshDownloadFiles,omitempty"`

	TextureTaskID           string `json:"textureTaskId,omitempty"`
	TexturedModelURL        string `json:"texturedModelUrl,omitempty"`
	TexturedModelStorage    string `json:"texturedModelStoragePath,omitempty"`

	CreditsCharged    CreditsCharged      `json:"creditsCharged"`
	RegenerationsUsed int                 `json:"regenerationsUsed"`
	Progress          *GenerationProgress `json:"generationProgress,omitempty"`
	DownloadRetries   int                 `json:"downloadRetries,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorStep Status `json:"errorStep,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// HasAllViews reports whether every mesh angle slot is populated.
func (p *Pipeline) HasAllViews() bool {
	if len(p.MeshImages) < len(Angles) {
		return false
	}
	for _, a := range Angles {
		if img := p.MeshImages[a]; img == nil || img.URL == "" {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of the pipeline, safe to hand out to callers
// while the original keeps being mutated under the store lock.
func (p *Pipeline) Copy() *Pipeline {
	cpy := *p
	cpy.InputImages = append([]string(nil), p.InputImages...)
	if p.ImageAnalysis != nil {
		cpy.ImageAnalysis = p.ImageAnalysis.Copy()
	}
	if p.MeshImages != nil {
		cpy.MeshImages = make(map[Angle]*ProcessedImage, len(p.MeshImages))
		for a, img := range p.MeshImages {
			c := *img
			c.ColorPalette = append([]string(nil), img.ColorPalette...)
			cpy.MeshImages[a] = &c
		}
	}
	if p.AggregatedColors != nil {
		cpy.AggregatedColors = &AggregatedPalette{
			Unified:        append([]string(nil), p.AggregatedColors.Unified...),
			DominantColors: append([]string(nil), p.AggregatedColors.DominantColors...),
		}
	}
	if p.Settings.ProviderOptions != nil {
		cpy.Settings.ProviderOptions = make(map[string]string, len(p.Settings.ProviderOptions))
		for k, v := range p.Settings.ProviderOptions {
			cpy.Settings.ProviderOptions[k] = v
		}
	}
	cpy.MeshDownloadFiles = append([]DownloadFile(nil), p.MeshDownloadFiles...)
	if p.Progress != nil {
		prog := *p.Progress
		cpy.Progress = &prog
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cpy.CompletedAt = &t
	}
	return &cpy
}
